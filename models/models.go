// Package models contains the persistent entities of the publish pipeline.
package models

// All returns every entity managed by migrations, in dependency order.
func All() []any {
	return []any{
		&Location{},
		&Screen{},
		&Placement{},
		&AdAsset{},
		&UploadJob{},
		&PublishQueueItem{},
		&PublishTrace{},
	}
}
