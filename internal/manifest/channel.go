package manifest

import (
	"fmt"
	"strconv"
	"strings"
)

// ChannelType enumerates the four channel access patterns, encoded as
// spec.md directs: 0=sequential-read, 1=sequential-write, 2=random-read,
// 3=random-write.
type ChannelType int

const (
	SequentialRead ChannelType = iota
	SequentialWrite
	RandomRead
	RandomWrite
)

func (t ChannelType) String() string {
	switch t {
	case SequentialRead:
		return "sequential-read"
	case SequentialWrite:
		return "sequential-write"
	case RandomRead:
		return "random-read"
	case RandomWrite:
		return "random-write"
	default:
		return "unknown"
	}
}

// Channel describes one I/O channel declared in the manifest's "Channel"
// key. Mounting, quota accounting, and read/write semantics are out of
// scope for this package (spec.md §1); Channel is pure declarative data.
type Channel struct {
	URI           string
	Alias         string
	Type          ChannelType
	Tag           string
	GetsCountMax  int64
	GetsBytesMax  int64
	PutsCountMax  int64
	PutsBytesMax  int64
}

// ChannelKey is the manifest key under which channel descriptors repeat.
const ChannelKey = "Channel"

// ParseChannel parses one "Channel" value: eight comma-separated fields —
// URI, alias, type, tag, gets-count limit, gets-bytes limit, puts-count
// limit, puts-bytes limit. Fields are split positionally with
// strings.Split rather than the Split helper: tag is legitimately empty
// in practice (e.g. "file:out,/dev/stdout,1,,0,0,1,64"), and Split's
// FieldsFunc-based delimiter collapsing would swallow that empty field
// and throw every later field out of position.
func ParseChannel(value string) (Channel, error) {
	fields := strings.Split(value, ",")
	if len(fields) != 8 {
		return Channel{}, fmt.Errorf("manifest: channel %q: expected 8 fields, got %d", value, len(fields))
	}

	typ, err := strconv.Atoi(fields[2])
	if err != nil || typ < 0 || typ > 3 {
		return Channel{}, fmt.Errorf("manifest: channel %q: bad type %q", value, fields[2])
	}

	limits := make([]int64, 4)
	for i, f := range fields[4:] {
		if f == "" {
			limits[i] = -1 // unlimited
			continue
		}
		n, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return Channel{}, fmt.Errorf("manifest: channel %q: bad limit %q: %w", value, f, err)
		}
		limits[i] = n
	}

	return Channel{
		URI:          fields[0],
		Alias:        fields[1],
		Type:         ChannelType(typ),
		Tag:          fields[3],
		GetsCountMax: limits[0],
		GetsBytesMax: limits[1],
		PutsCountMax: limits[2],
		PutsBytesMax: limits[3],
	}, nil
}

// Channels parses every "Channel" record in the manifest, in file order.
func (m *Manifest) Channels() ([]Channel, error) {
	var out []Channel
	for _, v := range m.GetAll(ChannelKey, 0) {
		ch, err := ParseChannel(v)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}
