package internal

import (
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"story-lab/domain"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const inspectTemplate = `<!doctype html>
<html>
<head><title>story-lab inspector</title></head>
<body>
<h1>Prefix {{.Prefix}}</h1>
<table>
<tr>{{range $k, $v := .Stats}}<td><b>{{$k}}</b> {{$v}}</td>{{end}}</tr>
</table>
<table border="1" cellpadding="4">
<tr><th>Key</th><th>Code</th><th>Status</th><th>Participants</th><th>Updated</th><th>Detail</th></tr>
{{range .Items}}<tr><td>{{.Key}}</td><td>{{.Code}}</td><td>{{.Status}}</td><td>{{.Participants}}</td><td>{{.UpdatedAt}}</td><td>{{.Detail}}</td></tr>
{{end}}</table>
</body>
</html>`

var inspectPage = template.Must(template.New("inspect").Parse(inspectTemplate))

type InspectRow struct {
	Key          string
	Code         string
	Status       string
	Participants string
	UpdatedAt    string
	Detail       string
}

type RowMapper func(key string, val []byte) InspectRow
type StatsProvider func() map[string]any

type PageData struct {
	Prefix string
	Items  []InspectRow
	Stats  map[string]any
}

// InspectHandler renders every badger entry under ?prefix= (default "room:").
func InspectHandler(db *badger.DB, mapper RowMapper, statsProvider StatsProvider) http.Handler {
	if mapper == nil {
		mapper = DefaultMapper
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		if prefix == "" {
			prefix = "room:"
		}

		data := PageData{
			Prefix: prefix,
			Stats:  make(map[string]any),
		}
		if statsProvider != nil {
			data.Stats = statsProvider()
		}

		err := db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()
			for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
				item := it.Item()
				if err := item.Value(func(val []byte) error {
					data.Items = append(data.Items, mapper(string(item.Key()), val))
					return nil
				}); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = inspectPage.Execute(w, data)
	})
}

// StartDebugServer serves the inspector until the returned server is shut down.
func StartDebugServer(log *slog.Logger, db *badger.DB, port int, endpoint string, mapper RowMapper, statsProvider StatsProvider) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(endpoint, InspectHandler(db, mapper, statsProvider))
	srv := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("Debug server stopped", "error", err)
		}
	}()
	return srv
}

func DefaultMapper(key string, val []byte) InspectRow {
	return InspectRow{
		Key:          key,
		Code:         "-",
		Status:       "RAW",
		Participants: "-",
		UpdatedAt:    "--:--:--",
		Detail:       "Size: " + strconv.Itoa(len(val)) + " bytes",
	}
}

// RoomMapper decodes room records, anything else falls back to DefaultMapper.
func RoomMapper(key string, val []byte) InspectRow {
	row := DefaultMapper(key, val)
	if !strings.HasPrefix(key, "room:") {
		return row
	}
	var record domain.RoomRecord
	if err := json.Unmarshal(val, &record); err != nil {
		row.Detail = "Error: unmarshal failed"
		return row
	}
	row.Code = record.Code
	row.Status = string(record.Status)
	row.Participants = strings.Join(record.Participants, ", ")
	row.UpdatedAt = record.UpdatedAt.Format("15:04:05")
	row.Detail = lastLine(record.Story)
	return row
}

func lastLine(story string) string {
	lines := strings.Split(strings.TrimRight(story, "\n"), "\n")
	return lines[len(lines)-1]
}
