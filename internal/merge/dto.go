package merge

// MergeResponse is the body of a successful POST /merge.
type MergeResponse struct {
	Success     bool   `json:"success"`
	DownloadURL string `json:"downloadUrl"`
}
