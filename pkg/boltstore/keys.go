package boltstore

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/crystal-mush/rpevents/pkg/gamedb"
)

var (
	bucketMeta       = []byte("meta")
	bucketCharacters = []byte("characters")
	bucketRooms      = []byte("rooms")
	bucketScheduler  = []byte("scheduler")
	bucketScripts    = []byte("scripts")

	allBuckets = [][]byte{bucketMeta, bucketCharacters, bucketRooms, bucketScheduler, bucketScripts}
)

var (
	keyVersion   = []byte("version")
	keyEventsMgr = []byte("event_manager")
)

// schemaVersion is stamped into meta the first time a file is opened.
const schemaVersion = 1

// refOffset keeps Nothing and other negative refs ahead of #0 in key order.
const refOffset = 1 << 32

func refToKey(ref gamedb.DBRef) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(int64(ref)+refOffset))
}

func intToKey(n int) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(n))
}

func keyToInt(b []byte) int {
	return int(binary.BigEndian.Uint64(b))
}

// scriptKey is "<ref>:<lowercased key>", so script keys are case-insensitive.
func scriptKey(obj gamedb.DBRef, key string) []byte {
	k := strconv.AppendInt(nil, int64(obj), 10)
	k = append(k, ':')
	return append(k, strings.ToLower(key)...)
}
