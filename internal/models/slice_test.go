package models

import "testing"

func TestSameShape(t *testing.T) {
	a := &Slice{Rows: 4, Cols: 5}
	b := &Slice{Rows: 4, Cols: 5}
	c := &Slice{Rows: 5, Cols: 4}

	if !a.SameShape(b) {
		t.Errorf("Expected %dx%d and %dx%d to match", a.Cols, a.Rows, b.Cols, b.Rows)
	}
	if a.SameShape(c) {
		t.Errorf("Expected %dx%d and %dx%d to differ", a.Cols, a.Rows, c.Cols, c.Rows)
	}
}
