package pageviews

// Per-article response of the pageviews REST API

type PageviewItem struct {
	Project     string `json:"project"`
	Article     string `json:"article"`
	Granularity string `json:"granularity"`
	Timestamp   string `json:"timestamp"`
	Access      string `json:"access"`
	Agent       string `json:"agent"`
	Views       int64  `json:"views"`
}

type PageviewsResponse struct {
	Items []*PageviewItem `json:"items"`
}

// Error body, application/problem+json

type ProblemResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Method string `json:"method"`
	Detail string `json:"detail"`
	URI    string `json:"uri"`
}
