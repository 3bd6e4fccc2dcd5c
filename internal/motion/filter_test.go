package motion

import (
	"image"
	"testing"

	"gocv.io/x/gocv"
)

// labelByArea labels small regions "cat" and big ones "car".
type labelByArea struct{}

func (labelByArea) Classify(_ gocv.Mat, r image.Rectangle) (string, bool) {
	if r.Dx()*r.Dy() < 10_000 {
		return "Cat", true
	}
	return "car", true
}

// neverSure refuses to label anything.
type neverSure struct{}

func (neverSure) Classify(gocv.Mat, image.Rectangle) (string, bool) { return "", false }

func TestSubjectFilterPassesThroughWithoutClassifier(t *testing.T) {
	f := NewSubjectFilter(nil, []string{"cat"})
	regions := []image.Rectangle{image.Rect(0, 0, 10, 10), image.Rect(5, 5, 25, 25)}

	got := f.Filter(gocv.NewMat(), regions)
	if len(got) != len(regions) {
		t.Fatalf("filtered to %d regions, want pass-through %d", len(got), len(regions))
	}
}

func TestSubjectFilterPassesThroughWithoutTargets(t *testing.T) {
	f := NewSubjectFilter(labelByArea{}, nil)
	regions := []image.Rectangle{image.Rect(0, 0, 200, 200)}

	if got := f.Filter(gocv.NewMat(), regions); len(got) != 1 {
		t.Fatalf("filtered to %d regions, want pass-through 1", len(got))
	}
}

func TestSubjectFilterKeepsOnlyTargets(t *testing.T) {
	f := NewSubjectFilter(labelByArea{}, []string{" CAT "})

	small := image.Rect(0, 0, 20, 20)
	big := image.Rect(0, 0, 300, 300)
	got := f.Filter(gocv.NewMat(), []image.Rectangle{small, big})

	if len(got) != 1 || got[0] != small {
		t.Fatalf("got %v, want only the cat-labeled region %v", got, small)
	}
}

func TestSubjectFilterDropsUnclassifiable(t *testing.T) {
	f := NewSubjectFilter(neverSure{}, []string{"cat"})

	got := f.Filter(gocv.NewMat(), []image.Rectangle{image.Rect(0, 0, 20, 20)})
	if len(got) != 0 {
		t.Fatalf("got %d regions, want 0 when nothing classifies", len(got))
	}
}

func TestSetTargetsReplacesList(t *testing.T) {
	f := NewSubjectFilter(labelByArea{}, []string{"cat"})
	f.SetTargets([]string{"car"})

	small := image.Rect(0, 0, 20, 20)
	big := image.Rect(0, 0, 300, 300)
	got := f.Filter(gocv.NewMat(), []image.Rectangle{small, big})

	if len(got) != 1 || got[0] != big {
		t.Fatalf("got %v, want only the car-labeled region after retarget", got)
	}
}
