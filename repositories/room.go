package repositories

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"story-lab/contract"
	"story-lab/domain"
	"story-lab/errors"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

const (
	roomPrefix   = "room:"
	codePrefix   = "code:"
	roomSequence = "seq:room"
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6
)

var _ contract.RoomStore = (*RoomRepository)(nil)

// RoomRepository stores RoomRecord values in BadgerDB, JSON encoded,
// under "room:{id}" with a "code:{code}" index.
type RoomRepository struct {
	db  *badger.DB
	log *slog.Logger
	now func() time.Time
}

func NewRoomRepository(db *badger.DB, log *slog.Logger) *RoomRepository {
	return &RoomRepository{db: db, log: log, now: time.Now}
}

func roomKey(id domain.RoomID) []byte {
	return []byte(fmt.Sprintf("%s%010d", roomPrefix, id))
}

func codeKey(code string) []byte {
	return []byte(codePrefix + code)
}

// Create persists a new LOBBY room with a fresh identifier and a random code.
func (r *RoomRepository) Create(ctx context.Context) (domain.RoomRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.RoomRecord{}, err
	}
	var record domain.RoomRecord
	err := r.db.Update(func(txn *badger.Txn) error {
		id, err := nextID(txn)
		if err != nil {
			return err
		}
		code, err := uniqueCode(txn)
		if err != nil {
			return err
		}
		now := r.now().UTC()
		record = domain.RoomRecord{
			ID:           id,
			Code:         code,
			Status:       domain.StatusLobby,
			Participants: []string{},
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := putRecord(txn, record); err != nil {
			return err
		}
		return txn.Set(codeKey(code), roomKey(id))
	})
	if err != nil {
		return domain.RoomRecord{}, fmt.Errorf("create room: %w", err)
	}
	r.log.Debug("Room created", "room_id", record.ID, "code", record.Code)
	return record, nil
}

func (r *RoomRepository) Get(ctx context.Context, id domain.RoomID) (domain.RoomRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.RoomRecord{}, err
	}
	var record domain.RoomRecord
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		record, err = getRecord(txn, roomKey(id))
		return err
	})
	return record, err
}

// FindByCode resolves a human-facing code, case-insensitively.
func (r *RoomRepository) FindByCode(ctx context.Context, code string) (domain.RoomRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.RoomRecord{}, err
	}
	var record domain.RoomRecord
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(codeKey(strings.ToUpper(code)))
		if err == badger.ErrKeyNotFound {
			return errors.ErrRoomNotFound
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		record, err = getRecord(txn, key)
		return err
	})
	return record, err
}

// List returns every room ordered by identifier.
func (r *RoomRepository) List(ctx context.Context) ([]domain.RoomRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var records []domain.RoomRecord
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(roomPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var record domain.RoomRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			})
			if err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	return records, err
}

func (r *RoomRepository) SetStatus(ctx context.Context, id domain.RoomID, status domain.RoomStatus) error {
	return r.update(ctx, id, func(record *domain.RoomRecord) {
		record.Status = status
	})
}

// AddParticipant is a no-op when the identity is already listed.
func (r *RoomRepository) AddParticipant(ctx context.Context, id domain.RoomID, identity string) error {
	return r.update(ctx, id, func(record *domain.RoomRecord) {
		if !lo.Contains(record.Participants, identity) {
			record.Participants = append(record.Participants, identity)
		}
	})
}

func (r *RoomRepository) RemoveParticipant(ctx context.Context, id domain.RoomID, identity string) error {
	return r.update(ctx, id, func(record *domain.RoomRecord) {
		record.Participants = lo.Without(record.Participants, identity)
	})
}

func (r *RoomRepository) AppendStoryText(ctx context.Context, id domain.RoomID, text string) error {
	return r.update(ctx, id, func(record *domain.RoomRecord) {
		record.Story += text + "\n"
	})
}

func (r *RoomRepository) update(ctx context.Context, id domain.RoomID, mutate func(*domain.RoomRecord)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		record, err := getRecord(txn, roomKey(id))
		if err != nil {
			return err
		}
		mutate(&record)
		record.UpdatedAt = r.now().UTC()
		return putRecord(txn, record)
	})
}

func getRecord(txn *badger.Txn, key []byte) (domain.RoomRecord, error) {
	var record domain.RoomRecord
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return record, errors.ErrRoomNotFound
	}
	if err != nil {
		return record, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &record)
	})
	return record, err
}

func putRecord(txn *badger.Txn, record domain.RoomRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}
	return txn.Set(roomKey(record.ID), data)
}

func nextID(txn *badger.Txn) (domain.RoomID, error) {
	var current uint64
	item, err := txn.Get([]byte(roomSequence))
	switch {
	case err == badger.ErrKeyNotFound:
	case err != nil:
		return 0, err
	default:
		err = item.Value(func(val []byte) error {
			current = binary.BigEndian.Uint64(val)
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	current++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, current)
	if err := txn.Set([]byte(roomSequence), buf); err != nil {
		return 0, err
	}
	return domain.RoomID(current), nil
}

func uniqueCode(txn *badger.Txn) (string, error) {
	for range 16 {
		code, err := NewRoomCode()
		if err != nil {
			return "", err
		}
		_, err = txn.Get(codeKey(code))
		if err == badger.ErrKeyNotFound {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", errors.ErrRoomExists
}

// NewRoomCode returns six characters drawn from [A-Z0-9].
func NewRoomCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
