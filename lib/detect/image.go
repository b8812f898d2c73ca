package detect

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"  // avatar decoders
	_ "image/jpeg" // avatar decoders
	_ "image/png"  // avatar decoders
	"sort"

	"github.com/corona10/goimagehash"
	"github.com/nfnt/resize"

	"github.com/HoboStank/discord-scammer-defense/lib/identity"
)

// ErrImageDecode indicates the avatar bytes could not be parsed as an image.
// Callers treat it the same as a missing avatar.
var ErrImageDecode = errors.New("can't decode image")

// image comparison constants. Heuristic values calibrated together with the
// aggregator weights, don't re-tune in isolation.
const (
	hashSide      = 128 // both images are resized to hashSide x hashSide before hashing
	hashBits      = 64  // all three perceptual hashes are 64-bit
	colorSide     = 16  // extra downsample for the dominant-color signature
	topColors     = 3   // dominant colors taken per image
	colorTol      = 30  // per-channel absolute tolerance out of 255
	avgThreshold  = 0.8
	percThreshold = 0.8
	diffThreshold = 0.8
	colThreshold  = 0.7
)

// DecodeImage parses raw avatar bytes into an image. Malformed data yields an
// error wrapping ErrImageDecode.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty data", ErrImageDecode)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	return img, nil
}

// CompareImages scores two avatars for similarity using three perceptual
// hashes and a coarse dominant-color signature. The returned score is the
// maximum of the four similarities; reasons list every method that crossed
// its threshold. Returns (0, none) if either image is absent. A nonzero score
// with no reasons is valid, score and reasons are independent signals.
func CompareImages(img1, img2 image.Image) identity.Result {
	if img1 == nil || img2 == nil {
		return identity.Result{}
	}

	r1, r2 := normalizeImage(img1), normalizeImage(img2)

	type method struct {
		name      string
		reason    string
		threshold float64
		sim       func() (float64, error)
	}
	methods := []method{
		{"average", "very similar overall appearance", avgThreshold, func() (float64, error) { return hashSimilarity(r1, r2, goimagehash.AverageHash) }},
		{"perceptual", "similar after minor modifications", percThreshold, func() (float64, error) { return hashSimilarity(r1, r2, goimagehash.PerceptionHash) }},
		{"difference", "similar edge patterns", diffThreshold, func() (float64, error) { return hashSimilarity(r1, r2, goimagehash.DifferenceHash) }},
		{"color", "similar color scheme", colThreshold, func() (float64, error) { return colorSimilarity(r1, r2), nil }},
	}

	res := identity.Result{Reasons: []string{}}
	for _, m := range methods {
		sim, err := m.sim()
		if err != nil {
			// a failed hash is a missing sub-signal, not a comparison failure
			continue
		}
		if sim > res.Score {
			res.Score = sim
		}
		if sim > m.threshold {
			res.Reasons = append(res.Reasons, m.reason)
		}
	}
	return res
}

// normalizeImage resizes to the fixed comparison square and forces a common
// 3-channel color mode.
func normalizeImage(img image.Image) *image.RGBA {
	scaled := resize.Resize(hashSide, hashSide, img, resize.Bilinear)
	rgba := image.NewRGBA(image.Rect(0, 0, hashSide, hashSide))
	draw.Draw(rgba, rgba.Bounds(), scaled, scaled.Bounds().Min, draw.Src)
	return rgba
}

func hashSimilarity(img1, img2 image.Image, hashFn func(image.Image) (*goimagehash.ImageHash, error)) (float64, error) {
	h1, err := hashFn(img1)
	if err != nil {
		return 0, fmt.Errorf("failed to hash first image: %w", err)
	}
	h2, err := hashFn(img2)
	if err != nil {
		return 0, fmt.Errorf("failed to hash second image: %w", err)
	}
	dist, err := h1.Distance(h2)
	if err != nil {
		return 0, fmt.Errorf("failed to compare hashes: %w", err)
	}
	return 1.0 - float64(dist)/float64(hashBits), nil
}

// colorSimilarity compares the top-N dominant colors of both images, counting
// colors whose channel-wise difference stays within the tolerance.
func colorSimilarity(img1, img2 *image.RGBA) float64 {
	c1, c2 := dominantColors(img1), dominantColors(img2)
	if len(c1) == 0 || len(c2) == 0 {
		return 0
	}

	matched := 0
	for _, a := range c1 {
		for _, b := range c2 {
			if absDiff(a[0], b[0]) <= colorTol && absDiff(a[1], b[1]) <= colorTol && absDiff(a[2], b[2]) <= colorTol {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(topColors)
}

// dominantColors downsamples the image and returns its topColors most
// frequent RGB triples, most frequent first.
func dominantColors(img *image.RGBA) [][3]uint8 {
	small := resize.Resize(colorSide, colorSide, img, resize.NearestNeighbor)

	counts := map[[3]uint8]int{}
	bounds := small.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := small.At(x, y).RGBA()
			counts[[3]uint8{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)}]++
		}
	}

	colors := make([][3]uint8, 0, len(counts))
	for c := range counts {
		colors = append(colors, c)
	}
	sort.Slice(colors, func(i, j int) bool {
		if counts[colors[i]] != counts[colors[j]] {
			return counts[colors[i]] > counts[colors[j]]
		}
		return bytes.Compare(colors[i][:], colors[j][:]) < 0 // stable order for equal counts
	})

	if len(colors) > topColors {
		colors = colors[:topColors]
	}
	return colors
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}
