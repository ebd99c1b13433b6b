// Package command provides serialization for conditions mutations applied
// via Raft.
//
// Each conditions.Store write method maps to one Op. The FSM decodes commands
// and dispatches to its in-memory store. Snapshots carry the whole memory
// store state, msgpack-encoded and zstd-compressed.
package command

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"conditionsdb/internal/conditions"
	"conditionsdb/internal/conditions/memory"
)

// Op identifies a store mutation.
type Op uint8

const (
	OpCreateSubdetector Op = iota + 1
	OpAppendVersion
	OpCreateGlobalTag
)

func (o Op) String() string {
	switch o {
	case OpCreateSubdetector:
		return "create_subdetector"
	case OpAppendVersion:
		return "append_version"
	case OpCreateGlobalTag:
		return "create_global_tag"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Command is one replicated mutation. Only the fields relevant to Op are set.
type Command struct {
	Op          Op                      `msgpack:"op"`
	Subdetector *conditions.Subdetector `msgpack:"sd,omitempty"`
	Versions    []conditions.Version    `msgpack:"versions,omitempty"`
	Version     *conditions.Version     `msgpack:"version,omitempty"`
	Tag         *conditions.GlobalTag   `msgpack:"tag,omitempty"`
	Revision    uint64                  `msgpack:"rev,omitempty"`
}

// NewCreateSubdetector builds the command for Store.CreateSubdetector.
func NewCreateSubdetector(sd conditions.Subdetector, versions []conditions.Version) *Command {
	c := sd.Clone()
	return &Command{Op: OpCreateSubdetector, Subdetector: &c, Versions: versions}
}

// NewAppendVersion builds the command for Store.AppendConditionVersion.
func NewAppendVersion(v conditions.Version) *Command {
	c := v.Clone()
	return &Command{Op: OpAppendVersion, Version: &c}
}

// NewCreateGlobalTag builds the command for Store.CreateGlobalTag.
func NewCreateGlobalTag(tag conditions.GlobalTag, revision uint64) *Command {
	c := tag.Clone()
	return &Command{Op: OpCreateGlobalTag, Tag: &c, Revision: revision}
}

// Marshal serializes a Command to bytes for raft.Apply().
func Marshal(cmd *Command) ([]byte, error) {
	return msgpack.Marshal(cmd)
}

// Unmarshal deserializes bytes back to a Command and checks that the
// payload for its Op is present. Timestamps come back in UTC.
func Unmarshal(b []byte) (*Command, error) {
	cmd := &Command{}
	if err := msgpack.Unmarshal(b, cmd); err != nil {
		return nil, err
	}

	switch cmd.Op {
	case OpCreateSubdetector:
		if cmd.Subdetector == nil {
			return nil, errors.New("create_subdetector: missing subdetector")
		}
		cmd.Subdetector.CreatedAt = cmd.Subdetector.CreatedAt.UTC()
		for i := range cmd.Versions {
			cmd.Versions[i] = cmd.Versions[i].UTC()
		}
	case OpAppendVersion:
		if cmd.Version == nil {
			return nil, errors.New("append_version: missing version")
		}
		v := cmd.Version.UTC()
		cmd.Version = &v
	case OpCreateGlobalTag:
		if cmd.Tag == nil {
			return nil, errors.New("create_global_tag: missing tag")
		}
		t := cmd.Tag.UTC()
		cmd.Tag = &t
	default:
		return nil, fmt.Errorf("unknown command %s", cmd.Op)
	}
	return cmd, nil
}

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// MarshalSnapshot serializes and compresses a memory store state.
func MarshalSnapshot(st memory.State) ([]byte, error) {
	data, err := msgpack.Marshal(&st)
	if err != nil {
		return nil, err
	}
	return encoder.EncodeAll(data, nil), nil
}

// UnmarshalSnapshot reverses MarshalSnapshot.
func UnmarshalSnapshot(b []byte) (memory.State, error) {
	data, err := decoder.DecodeAll(b, nil)
	if err != nil {
		return memory.State{}, fmt.Errorf("decompress snapshot: %w", err)
	}
	var st memory.State
	if err := msgpack.Unmarshal(data, &st); err != nil {
		return memory.State{}, err
	}
	for i := range st.Subdetectors {
		st.Subdetectors[i].CreatedAt = st.Subdetectors[i].CreatedAt.UTC()
	}
	for i := range st.Versions {
		st.Versions[i] = st.Versions[i].UTC()
	}
	for i := range st.Tags {
		st.Tags[i] = st.Tags[i].UTC()
	}
	return st, nil
}
