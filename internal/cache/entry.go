package cache

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/any-hub/quicksilver/internal/httpheader"
)

const (
	// CacheStatusHeader 标记响应来自缓存（hit）还是刚从上游取回（miss）。
	CacheStatusHeader = "X-Quicksilver-Cache"
	storedAtHeader    = "X-Quicksilver-Stored-At"
)

// Entry 是一次上游响应的不可变快照。更新时整体替换，从不原地修改。
type Entry struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// NewEntry 以已读完的 body 构造条目，header 只保留端到端字段。
func NewEntry(resp *http.Response, body []byte, storedAt time.Time) Entry {
	return Entry{
		Status:   resp.StatusCode,
		Header:   httpheader.CloneEndToEnd(resp.Header),
		Body:     append([]byte(nil), body...),
		StoredAt: storedAt.UTC(),
	}
}

// Clone 返回深拷贝，调用方可以随意修改结果而不影响缓存内容。
func (e Entry) Clone() Entry {
	return Entry{
		Status:   e.Status,
		Header:   e.Header.Clone(),
		Body:     append([]byte(nil), e.Body...),
		StoredAt: e.StoredAt,
	}
}

// Response 基于条目的副本构造一个全新的 *http.Response。
func (e Entry) Response(req *http.Request) *http.Response {
	c := e.Clone()
	header := c.Header
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Length", strconv.Itoa(len(c.Body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", c.Status, http.StatusText(c.Status)),
		StatusCode:    c.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(c.Body)),
		ContentLength: int64(len(c.Body)),
		Request:       req,
	}
}

// encodeEntry 以 HTTP/1.1 报文格式序列化条目，写入时间放在扩展头里。
func encodeEntry(e Entry) ([]byte, error) {
	header := e.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set(storedAtHeader, strconv.FormatInt(e.StoredAt.UnixMilli(), 10))

	resp := &http.Response{
		StatusCode:    e.Status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
	}
	var buf bytes.Buffer
	if err := resp.Write(&buf); err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeEntry(raw []byte) (Entry, error) {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), nil)
	if err != nil {
		return Entry{}, fmt.Errorf("decode entry: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Entry{}, fmt.Errorf("decode entry body: %w", err)
	}

	var storedAt time.Time
	if ms, err := strconv.ParseInt(resp.Header.Get(storedAtHeader), 10, 64); err == nil {
		storedAt = time.UnixMilli(ms).UTC()
	}
	resp.Header.Del(storedAtHeader)

	return Entry{
		Status:   resp.StatusCode,
		Header:   resp.Header,
		Body:     body,
		StoredAt: storedAt,
	}, nil
}
