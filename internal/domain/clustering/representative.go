package clustering

// SelectRepresentative picks the member with the highest confidence,
// breaking ties by earliest creation time and then lowest id.
func SelectRepresentative(items []Item) (Item, bool) {
	if len(items) == 0 {
		return Item{}, false
	}
	best := items[0]
	for _, item := range items[1:] {
		if ranksBefore(item, best) {
			best = item
		}
	}
	return best, true
}

// ranksBefore is the ordering shared by representative selection and the
// clustering walk.
func ranksBefore(a, b Item) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
