// Package snapshot exports and imports every setting of one application as
// a single binary document.
//
// The document is protobuf wire encoded:
//
//	1: id          string  (UUID)
//	2: created_at  varint  (unix nanoseconds)
//	3: app         string
//	4: entry       bytes, repeated { 1: key string, 2: value string }
//
// Unknown fields are skipped so later versions can add fields.
package snapshot

import (
	"errors"
	"fmt"
	"io"
	"time"

	"settingsd/internal/logging"
	"settingsd/internal/settings"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

var log = logging.For("snapshot")

// ErrMalformed is returned when a document cannot be decoded.
var ErrMalformed = errors.New("malformed settings snapshot")

const (
	fieldID        protowire.Number = 1
	fieldCreatedAt protowire.Number = 2
	fieldApp       protowire.Number = 3
	fieldEntry     protowire.Number = 4

	fieldEntryKey   protowire.Number = 1
	fieldEntryValue protowire.Number = 2
)

// Snapshot is a point-in-time copy of an application's settings.
type Snapshot struct {
	ID        uuid.UUID
	CreatedAt time.Time
	App       string
	Settings  []settings.Setting
}

// Export captures every setting in c.
func Export(c settings.Catalog, app string) (*Snapshot, error) {
	list, err := c.List()
	if err != nil {
		return nil, fmt.Errorf("exporting settings: %w", err)
	}
	return &Snapshot{
		ID:        uuid.New(),
		CreatedAt: time.Now().UTC(),
		App:       app,
		Settings:  list,
	}, nil
}

// Import stores every setting of s into svc in document order. It stops at
// the first failure and returns how many settings were stored before it.
// Settings already present in svc but absent from s are left alone.
func Import(svc settings.Service, s *Snapshot) (int, error) {
	for i, st := range s.Settings {
		if err := svc.Store(st.Key, st.Value); err != nil {
			return i, fmt.Errorf("importing %q: %w", st.Key, err)
		}
	}
	log.Info("imported snapshot", "id", s.ID, "app", s.App, "settings", len(s.Settings))
	return len(s.Settings), nil
}

// MarshalBinary encodes s.
func (s *Snapshot) MarshalBinary() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fieldID, protowire.BytesType)
	b = protowire.AppendString(b, s.ID.String())
	b = protowire.AppendTag(b, fieldCreatedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.CreatedAt.UnixNano()))
	b = protowire.AppendTag(b, fieldApp, protowire.BytesType)
	b = protowire.AppendString(b, s.App)
	for _, st := range s.Settings {
		var e []byte
		e = protowire.AppendTag(e, fieldEntryKey, protowire.BytesType)
		e = protowire.AppendString(e, st.Key)
		e = protowire.AppendTag(e, fieldEntryValue, protowire.BytesType)
		e = protowire.AppendString(e, st.Value)
		b = protowire.AppendTag(b, fieldEntry, protowire.BytesType)
		b = protowire.AppendBytes(b, e)
	}
	return b, nil
}

// UnmarshalBinary decodes data into s.
func (s *Snapshot) UnmarshalBinary(data []byte) error {
	var out Snapshot
	var haveID bool
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("%w: id: %v", ErrMalformed, protowire.ParseError(n))
			}
			id, err := uuid.Parse(v)
			if err != nil {
				return fmt.Errorf("%w: id: %v", ErrMalformed, err)
			}
			out.ID, haveID = id, true
			data = data[n:]
		case num == fieldCreatedAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("%w: created_at: %v", ErrMalformed, protowire.ParseError(n))
			}
			out.CreatedAt = time.Unix(0, int64(v)).UTC()
			data = data[n:]
		case num == fieldApp && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("%w: app: %v", ErrMalformed, protowire.ParseError(n))
			}
			out.App = v
			data = data[n:]
		case num == fieldEntry && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("%w: entry: %v", ErrMalformed, protowire.ParseError(n))
			}
			st, err := unmarshalEntry(v)
			if err != nil {
				return err
			}
			out.Settings = append(out.Settings, st)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	if !haveID {
		return fmt.Errorf("%w: missing id", ErrMalformed)
	}
	*s = out
	return nil
}

func unmarshalEntry(data []byte) (settings.Setting, error) {
	var st settings.Setting
	var haveKey bool
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return st, fmt.Errorf("%w: entry: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldEntryKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return st, fmt.Errorf("%w: entry key: %v", ErrMalformed, protowire.ParseError(n))
			}
			st.Key, haveKey = v, true
			data = data[n:]
		case num == fieldEntryValue && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return st, fmt.Errorf("%w: entry value: %v", ErrMalformed, protowire.ParseError(n))
			}
			st.Value = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return st, fmt.Errorf("%w: entry field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	if !haveKey {
		return st, fmt.Errorf("%w: entry without key", ErrMalformed)
	}
	return st, nil
}

// Write encodes s to w.
func Write(w io.Writer, s *Snapshot) error {
	data, err := s.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// Read decodes a snapshot from r.
func Read(r io.Reader) (*Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	var s Snapshot
	if err := s.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &s, nil
}
