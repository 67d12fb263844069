package storage

import (
	"encoding/json"
	"fmt"
)

// SnapshotCounts summarises the size of every collection in a snapshot.
type SnapshotCounts struct {
	Identities     int `json:"identities"`
	Posts          int `json:"posts"`
	Reels          int `json:"reels"`
	FriendRequests int `json:"friendRequests"`
	Friendships    int `json:"friendships"`
	GlobalMessages int `json:"globalMessages"`
	DirectMessages int `json:"directMessages"`
	Groups         int `json:"groups"`
	Pages          int `json:"pages"`
}

func (d *dataset) counts() SnapshotCounts {
	return SnapshotCounts{
		Identities:     len(d.Identities),
		Posts:          len(d.Posts),
		Reels:          len(d.Reels),
		FriendRequests: len(d.FriendRequests),
		Friendships:    len(d.Friendships),
		GlobalMessages: len(d.GlobalMessages),
		DirectMessages: len(d.DirectMessages),
		Groups:         len(d.Groups),
		Pages:          len(d.Pages),
	}
}

// Counts reports the current collection sizes.
func (s *Storage) Counts() SnapshotCounts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.counts()
}

// Snapshot returns the encoded document exactly as Save would write it, minus
// eviction.
func (s *Storage) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.MarshalIndent(s.data, "", "  ")
}

// DecodeSnapshot validates a raw snapshot document and reports its counts.
func DecodeSnapshot(raw []byte) (SnapshotCounts, error) {
	var data dataset
	if err := json.Unmarshal(raw, &data); err != nil {
		return SnapshotCounts{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return data.counts(), nil
}
