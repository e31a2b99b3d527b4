// Package kvstore provides a BadgerDB-backed implementation of the engine's
// persistence contract.
//
// It stores the same records as the SQLite store under a byte-ordered key
// layout, so history for one (entity, key, branch) comes back from a single
// prefix scan already sorted by (turn, tick, seq):
//
//	f \0 kind \0 graph \0 node \0 dest \0 idx \0 key \0 branch \0 turn tick seq   fact value
//	b \0 id                                                                       branch record
//	h \0 kind \0 graph \0 node \0 dest \0 idx \0 rulebook \0 rule \0 branch \0 turn   handled record
//	k \0 branch \0 turn tick                                                      keyframe
//	g \0 name                                                                     globals
//
// Integers are big-endian with the sign bit flipped so byte order matches
// numeric order. Names must not contain NUL bytes.
package kvstore
