package protocol

import (
	"mime"
	"mime/multipart"
)

// PartFileName returns the filename of a multipart part as sent, including
// directory segments. multipart.Part.FileName strips those.
func PartFileName(p *multipart.Part) string {
	_, params, err := mime.ParseMediaType(p.Header.Get("Content-Disposition"))
	if err != nil {
		return p.FileName()
	}
	return params["filename"]
}
