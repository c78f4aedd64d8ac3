package models

import "time"

// DocumentImage is one published page image of a document, in render order.
// IsBlurred carries the render engine's preview-window decision; the serving
// layer uses it to gate full-resolution access.
type DocumentImage struct {
	Sheet     string `firestore:"sheet,omitempty" json:"sheet"`
	Page      int    `firestore:"page" json:"page"`
	URL       string `firestore:"url,omitempty" json:"url"`
	IsBlurred bool   `firestore:"isBlurred" json:"isBlurred"`
}

// DocumentRecord is one published, browsable document: the page images
// derived from a whole upload or from a single split part. After the
// publisher's final image-URL update the pipeline never touches the record
// again; view/favorite counters belong to the serving layer.
type DocumentRecord struct {
	ID               string          `firestore:"-"`
	PostID           string          `firestore:"postId,omitempty"`
	Title            string          `firestore:"title,omitempty"`
	Description      string          `firestore:"description,omitempty"`
	Category         string          `firestore:"category,omitempty"`
	Subcategory      string          `firestore:"subcategory,omitempty"`
	PageCount        int             `firestore:"pageCount"`
	PointsCost       int             `firestore:"pointsCost"`
	CoverImageURL    string          `firestore:"coverImageUrl,omitempty"`
	Images           []DocumentImage `firestore:"images,omitempty"`
	OriginalFileName string          `firestore:"originalFileName,omitempty"`
	ArchiveURL       string          `firestore:"archiveUrl,omitempty"`

	// Part linkage. Absent (zero) on single-part documents; the repository
	// omits zero values so they never appear on the stored record.
	ParentPostID string `firestore:"parentPostId,omitempty"`
	PostIndex    int    `firestore:"postIndex,omitempty"`
	TotalParts   int    `firestore:"totalParts,omitempty"`

	CreatedAt time.Time `firestore:"createdAt,omitempty"`
}
