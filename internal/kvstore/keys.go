package kvstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/tempograph/internal/ir"
)

const sep = 0x00

var (
	prefixFact     = []byte{'f', sep}
	prefixBranch   = []byte{'b', sep}
	prefixHandled  = []byte{'h', sep}
	prefixKeyframe = []byte{'k', sep}

	keyCursor   = []byte("g\x00cursor")
	keyMaxSeq   = []byte("g\x00maxseq")
	keyOrdinal  = []byte("g\x00ordinal")
	errNULInKey = errors.New("names must not contain NUL bytes")
)

// keyBuilder appends NUL-terminated segments and fixed-width integers.
type keyBuilder struct {
	buf []byte
	err error
}

func newKey(prefix []byte) *keyBuilder {
	return &keyBuilder{buf: append([]byte(nil), prefix...)}
}

func (k *keyBuilder) str(s string) *keyBuilder {
	if strings.IndexByte(s, sep) >= 0 {
		k.err = fmt.Errorf("%q: %w", s, errNULInKey)
	}
	k.buf = append(k.buf, s...)
	k.buf = append(k.buf, sep)
	return k
}

func (k *keyBuilder) int(n int64) *keyBuilder {
	k.buf = binary.BigEndian.AppendUint64(k.buf, uint64(n)^(1<<63))
	return k
}

func (k *keyBuilder) ref(ref ir.EntityRef) *keyBuilder {
	return k.str(ref.Kind.String()).str(ref.Graph).str(ref.Node).str(ref.Dest).int(ref.Idx)
}

func (k *keyBuilder) bytes() ([]byte, error) {
	return k.buf, k.err
}

// historyPrefix is the prefix shared by every row of (ref, key, branch).
func historyPrefix(ref ir.EntityRef, key, branch string) ([]byte, error) {
	return newKey(prefixFact).ref(ref).str(key).str(branch).bytes()
}

func factKey(f ir.Fact) ([]byte, error) {
	return newKey(prefixFact).ref(f.Ref).str(f.Key).str(f.Branch).int(f.Turn).int(f.Tick).int(f.Seq).bytes()
}

func handledKey(h ir.HandledRule) ([]byte, error) {
	return newKey(prefixHandled).ref(h.Ref).str(h.Rulebook).str(h.Rule).str(h.Branch).int(h.Turn).bytes()
}

func keyframeKey(t ir.Time) ([]byte, error) {
	return newKey(prefixKeyframe).str(t.Branch).int(t.Turn).int(t.Tick).bytes()
}

func branchKey(id string) ([]byte, error) {
	return newKey(prefixBranch).str(id).bytes()
}

// keyReader consumes segments written by keyBuilder.
type keyReader struct {
	buf []byte
	err error
}

func readKey(key, prefix []byte) *keyReader {
	if !bytes.HasPrefix(key, prefix) {
		return &keyReader{err: fmt.Errorf("key %x lacks prefix %q", key, prefix)}
	}
	return &keyReader{buf: key[len(prefix):]}
}

func (r *keyReader) str() string {
	if r.err != nil {
		return ""
	}
	i := bytes.IndexByte(r.buf, sep)
	if i < 0 {
		r.err = errors.New("truncated key segment")
		return ""
	}
	s := string(r.buf[:i])
	r.buf = r.buf[i+1:]
	return s
}

func (r *keyReader) int() int64 {
	if r.err != nil {
		return 0
	}
	if len(r.buf) < 8 {
		r.err = errors.New("truncated key integer")
		return 0
	}
	n := int64(binary.BigEndian.Uint64(r.buf[:8]) ^ (1 << 63))
	r.buf = r.buf[8:]
	return n
}

func (r *keyReader) ref() ir.EntityRef {
	kind, graph, node, dest := r.str(), r.str(), r.str(), r.str()
	idx := r.int()
	if r.err != nil {
		return ir.EntityRef{}
	}
	k, err := ir.ParseEntityKind(kind)
	if err != nil {
		r.err = err
		return ir.EntityRef{}
	}
	return ir.EntityRef{Kind: k, Graph: graph, Node: node, Dest: dest, Idx: idx}
}

// parseFactKey is the inverse of factKey; Value and Deleted are left zero.
func parseFactKey(key []byte) (ir.Fact, error) {
	r := readKey(key, prefixFact)
	f := ir.Fact{Ref: r.ref(), Key: r.str(), Branch: r.str()}
	f.Turn, f.Tick, f.Seq = r.int(), r.int(), r.int()
	if r.err != nil {
		return ir.Fact{}, fmt.Errorf("parse fact key: %w", r.err)
	}
	return f, nil
}

func encodeInt(n int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(n))
}

func decodeInt(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}
