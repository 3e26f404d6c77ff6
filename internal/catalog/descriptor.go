package catalog

// IndexDescriptor records one secondary index ensured on a collection.
type IndexDescriptor struct {
	Path   string `json:"path"`
	Kind   string `json:"kind"` // string, istring, number, array, qgram
	Unique bool   `json:"unique"`
}

// CollectionDescriptor records everything the catalog persists about one
// collection: its tuning block and the indexes ensured on it. The
// `_id` → locator primary index is not listed here — it is implicit,
// maintained by the index manager as an ordinary `string` index under
// the hood for every collection.
type CollectionDescriptor struct {
	Name        string            `json:"name"`
	Compress    bool              `json:"compress"`
	CacheSizeMB int               `json:"cache_size_mb"`
	Indexes     []IndexDescriptor `json:"indexes"`
}

// FindIndex returns the descriptor for the index at path with the given
// kind, if one has been ensured.
func (c *CollectionDescriptor) FindIndex(path, kind string) (*IndexDescriptor, bool) {
	for i := range c.Indexes {
		if c.Indexes[i].Path == path && c.Indexes[i].Kind == kind {
			return &c.Indexes[i], true
		}
	}
	return nil, false
}
