package redis

import (
	"bytes"

	"github.com/sigurn/crc16"
)

// numSlots is the fixed redis cluster keyspace size.
const numSlots = 16384

// Slot returns the redis cluster hash slot of key, honouring {hash tags}.
func Slot(key []byte) int {
	if s := bytes.IndexByte(key, '{'); s >= 0 {
		if e := bytes.IndexByte(key[s+1:], '}'); e > 0 {
			key = key[s+1 : s+1+e]
		}
	}
	return int(checksum(key)) % numSlots
}

// xmodem is the CRC-16 variant redis cluster uses for slots.
var xmodem = crc16.MakeTable(crc16.CRC16_XMODEM)

func checksum(b []byte) uint16 { return crc16.Checksum(b, xmodem) }

type slotGroup struct {
	slot int
	idx  []int // positions in the caller's key slice
}

// groupBySlot partitions keys by slot, groups ordered by first appearance.
func groupBySlot(keys [][]byte) []slotGroup {
	pos := make(map[int]int, 4)
	var groups []slotGroup
	for i, k := range keys {
		s := Slot(k)
		gi, ok := pos[s]
		if !ok {
			gi = len(groups)
			pos[s] = gi
			groups = append(groups, slotGroup{slot: s})
		}
		groups[gi].idx = append(groups[gi].idx, i)
	}
	return groups
}
