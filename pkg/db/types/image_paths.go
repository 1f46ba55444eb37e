package dbtypes

import "github.com/lib/pq"

// ImagePaths maps the nullable TEXT[] images column. A nil slice is stored as
// NULL, which is how archived harvests record that their images are gone.
type ImagePaths = pq.StringArray
