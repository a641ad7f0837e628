package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"story-lab/domain"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

func main() {
	dbPath := flag.String("db", "./data/badger", "Path to badger DB")
	prefix := flag.String("prefix", "room:", "Prefix to scan")
	storyWidth := flag.Int("story", 60, "Characters of story shown per room")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Code", "Status", "Participants", "Updated", "Story"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	count := 0
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			key := string(item.Key())
			err := item.Value(func(v []byte) error {
				var record domain.RoomRecord
				if err := json.Unmarshal(v, &record); err != nil {
					fmt.Println(color.FgRed.Render(fmt.Sprintf("Error unmarshaling key %s: %v", key, err)))
					return nil
				}
				table.Append([]string{
					key,
					record.Code,
					statusCell(record.Status),
					strconv.Itoa(len(record.Participants)) + " " + strings.Join(record.Participants, ","),
					record.UpdatedAt.Format("2006-01-02 15:04:05"),
					truncate(strings.ReplaceAll(record.Story, "\n", " "), *storyWidth),
				})
				count++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
	fmt.Println(color.FgGray.Render(fmt.Sprintf("%d record(s) under %q", count, *prefix)))
}

func statusCell(status domain.RoomStatus) string {
	if status == domain.StatusInProgress {
		return color.FgGreen.Render(string(status))
	}
	return color.FgYellow.Render(string(status))
}

func truncate(s string, width int) string {
	r := []rune(s)
	if width <= 0 || len(r) <= width {
		return s
	}
	return string(r[:width]) + "..."
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)
	return badger.Open(opts)
}
