package models

import "testing"

func TestMediaRecordToggleLike(t *testing.T) {
	record := MediaRecord{ID: "1"}

	if liked := record.ToggleLike("a@example.com"); !liked {
		t.Fatal("expected first toggle to like")
	}
	if liked := record.ToggleLike("b@example.com"); !liked {
		t.Fatal("expected second liker to be added")
	}
	if liked := record.ToggleLike("a@example.com"); liked {
		t.Fatal("expected repeated toggle to unlike")
	}
	if len(record.Likes) != 1 || record.Likes[0] != "b@example.com" {
		t.Fatalf("unexpected likers %v", record.Likes)
	}
}

func TestFriendshipEndpoints(t *testing.T) {
	edge := Friendship{User1: "a@example.com", User2: "b@example.com"}

	if !edge.Involves("b@example.com") || edge.Involves("c@example.com") {
		t.Fatal("Involves returned wrong membership")
	}
	if other := edge.Other("b@example.com"); other != "a@example.com" {
		t.Fatalf("expected a@example.com, got %s", other)
	}
	if !edge.Connects("b@example.com", "a@example.com") {
		t.Fatal("expected edge to be undirected")
	}
}

func TestParseMediaKind(t *testing.T) {
	cases := map[string]MediaKind{
		"reel":  MediaKindReel,
		" REEL": MediaKindReel,
		"post":  MediaKindPost,
		"":      MediaKindPost,
		"video": MediaKindPost,
	}
	for input, expected := range cases {
		if got := ParseMediaKind(input); got != expected {
			t.Fatalf("ParseMediaKind(%q) = %s, want %s", input, got, expected)
		}
	}
}
