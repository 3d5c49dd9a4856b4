package news

import "time"

// Article is the subset of a search result the generator uses.
type Article struct {
	Title       string
	URL         string
	Description string
	Source      string
	Thumbnail   string
	PublishedAt time.Time
}

type searchResponse struct {
	Value []result `json:"value"`
}

type result struct {
	Name          string     `json:"name"`
	URL           string     `json:"url"`
	Description   string     `json:"description"`
	DatePublished string     `json:"datePublished"`
	Provider      []provider `json:"provider"`
	Image         *image     `json:"image,omitempty"`
}

type provider struct {
	Name string `json:"name"`
}

type image struct {
	Thumbnail struct {
		ContentURL string `json:"contentUrl"`
	} `json:"thumbnail"`
}

func (r result) thumbnail() string {
	if r.Image == nil {
		return ""
	}
	return r.Image.Thumbnail.ContentURL
}
