package cache

import "net/http"

// Transport 让任意 http.Client 经由 Gateway 发起请求。
type Transport struct {
	Gateway *Gateway
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.Gateway.Handle(req)
}

// NewClient 返回一个所有请求都经过 g 的 http.Client。
func NewClient(g *Gateway) *http.Client {
	return &http.Client{Transport: &Transport{Gateway: g}}
}

// RoundTripperFetcher 把 http.RoundTripper 适配为 Fetcher。
type RoundTripperFetcher struct {
	RoundTripper http.RoundTripper
}

func (f RoundTripperFetcher) Fetch(req *http.Request) (*http.Response, error) {
	rt := f.RoundTripper
	if rt == nil {
		rt = http.DefaultTransport
	}
	return rt.RoundTrip(req)
}
