package normalize

import "encoding/json"

// FileRecord is a file ("resource") as the DAM returns it. Different backend
// generations spell the identifier differently; see idExtractors.
type FileRecord struct {
	ResourceUUID string   `json:"resourceuuid,omitempty"`
	ResourceID   string   `json:"resourceId,omitempty"`
	UUID         string   `json:"uuid,omitempty"`
	Title        string   `json:"title,omitempty"`
	Name         string   `json:"name,omitempty"`
	SHA1         string   `json:"sha1,omitempty"`
	MimeType     string   `json:"mimetype,omitempty"`
	CreatedTime  string   `json:"createdtime,omitempty"`
	Tags         []string `json:"tags,omitempty"`

	// Versions is decoded so it can be dropped explicitly; it is never
	// forwarded into an Asset.
	Versions json.RawMessage `json:"versions,omitempty"`
}

// FolderRecord is a folder listing as the DAM returns it. Nested folders
// arrive inline, usually without their own contents.
type FolderRecord struct {
	FolderUUID  string         `json:"folderuuid,omitempty"`
	Name        string         `json:"name,omitempty"`
	CreatedTime string         `json:"createdtime,omitempty"`
	Resources   []FileRecord   `json:"resource,omitempty"`
	Folders     []FolderRecord `json:"folder,omitempty"`
}

// HasContent reports whether the listing carried any folder payload at all.
func (f *FolderRecord) HasContent() bool {
	return f != nil && (f.FolderUUID != "" || f.Name != "" || f.Resources != nil || f.Folders != nil)
}
