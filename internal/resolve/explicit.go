package resolve

import (
	"elfdata/internal/buildid"
	"elfdata/internal/discover"
	"elfdata/internal/elfx"
)

// ResolvePair opens a stripped binary and its debug file and returns the one
// module they form. Both images belong to the module on success; nothing stays
// open on failure.
func ResolvePair(open elfx.OpenFunc, stripped, debug string) (*discover.Module, error) {
	if open == nil {
		open = elfx.Open
	}
	img, err := open(stripped)
	if err != nil {
		return nil, buildid.Classify(stripped, err)
	}
	dimg, err := open(debug)
	if err != nil {
		img.Close()
		return nil, buildid.Classify(debug, err)
	}
	return discover.NewExplicit(img, dimg), nil
}
