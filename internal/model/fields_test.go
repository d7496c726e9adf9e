package model

import (
	"testing"

	"scandoc/internal/imaging"
)

func TestDiffFields_ScalarAndStructural(t *testing.T) {
	winner := testDocument(t, 1).Pages[0]
	loser := winner.Clone()

	winner.Rotation = 180
	winner.Crop = &imaging.Quad{{X: 1, Y: 1}, {X: 9, Y: 1}, {X: 9, Y: 9}, {X: 1, Y: 9}}
	winner.ModifiedDate = loser.ModifiedDate + 1000

	diff, err := DiffFields(winner, loser, "imagePath", "sourceImagePath")
	if err != nil {
		t.Fatalf("DiffFields() failed: %v", err)
	}

	for _, want := range []string{"rotation", "crop", "modifiedDate"} {
		if !diff.Has(want) {
			t.Errorf("diff missing %q: %v", want, diff)
		}
	}
	for _, unchanged := range []string{"transforms", "size", "width"} {
		if diff.Has(unchanged) {
			t.Errorf("diff contains unchanged field %q", unchanged)
		}
	}
}

func TestDiffFields_ExcludesPathsAndInternal(t *testing.T) {
	winner := testDocument(t, 1).Pages[0]
	loser := winner.Clone()
	winner.ImagePath = "/other/install/image.jpg"
	winner.SourceImagePath = "/other/install/source.jpg"

	diff, err := DiffFields(winner, loser, "imagePath", "sourceImagePath")
	if err != nil {
		t.Fatalf("DiffFields() failed: %v", err)
	}
	if len(diff) != 0 {
		t.Errorf("path-only differences must not merge, got %v", diff)
	}

	wdoc := testDocument(t, 0)
	ldoc := testDocument(t, 0)
	wdoc.Synced = 1
	ldoc.Synced = 0
	ddiff, err := DiffFields(wdoc, ldoc, "pages")
	if err != nil {
		t.Fatalf("DiffFields() failed: %v", err)
	}
	if ddiff.Has("_synced") {
		t.Error("internal _synced field must not merge")
	}
}

func TestFieldsApply(t *testing.T) {
	page := testDocument(t, 1).Pages[0]
	update := Fields{
		"rotation":   270.0,
		"transforms": "invert",
		"size":       4096,
	}

	if err := update.Apply(page); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	if page.Rotation != 270 {
		t.Errorf("rotation = %g, want 270", page.Rotation)
	}
	if page.Transforms != "invert" {
		t.Errorf("transforms = %q, want invert", page.Transforms)
	}
	if page.Size != 4096 {
		t.Errorf("size = %d, want 4096", page.Size)
	}
	// untouched fields keep their values
	if page.Width != 100 {
		t.Errorf("width = %d, want 100", page.Width)
	}
}

func TestMergeDirection(t *testing.T) {
	// Two pages differing only in modifiedDate and one scalar field: the
	// side with the smaller timestamp must receive the other's value, and
	// paths stay untouched on both sides.
	newer := testDocument(t, 1).Pages[0]
	older := newer.Clone()
	newer.ModifiedDate = older.ModifiedDate + 5000
	newer.Rotation = 180
	older.ImagePath = "/local/a/image.jpg"
	newer.ImagePath = "/remote/b/image.jpg"

	var winner, loser *Page
	if newer.ModifiedDate > older.ModifiedDate {
		winner, loser = newer, older
	} else {
		winner, loser = older, newer
	}

	diff, err := DiffFields(winner, loser, "imagePath", "sourceImagePath")
	if err != nil {
		t.Fatalf("DiffFields() failed: %v", err)
	}
	if err := diff.Apply(loser); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	if loser.Rotation != 180 {
		t.Errorf("loser rotation = %g, want 180", loser.Rotation)
	}
	if loser.ModifiedDate != newer.ModifiedDate {
		t.Errorf("loser modifiedDate = %d, want %d", loser.ModifiedDate, newer.ModifiedDate)
	}
	if loser.ImagePath != "/local/a/image.jpg" {
		t.Errorf("loser imagePath = %q changed during merge", loser.ImagePath)
	}
	if winner.ImagePath != "/remote/b/image.jpg" {
		t.Errorf("winner imagePath = %q changed during merge", winner.ImagePath)
	}
}
