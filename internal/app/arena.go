package app

import "gocv.io/x/gocv"

// arena owns the Mats allocated during one tick and closes them together.
type arena struct {
	mats []gocv.Mat
}

// track registers m for release and returns it unchanged.
func (a *arena) track(m gocv.Mat) gocv.Mat {
	a.mats = append(a.mats, m)
	return m
}

// release closes every tracked Mat in reverse allocation order.
func (a *arena) release() {
	for i := len(a.mats) - 1; i >= 0; i-- {
		a.mats[i].Close()
	}
	a.mats = nil
}
