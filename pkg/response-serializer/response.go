package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const storedAtHeaderName = "Shellcache-Stored-At"

// StoredResponse is a response read back from storage.
type StoredResponse struct {
	Response *http.Response
	// The value of the clock when the response was stored.
	StoredAt time.Time
}

// ResponseToBytes returns the HTTP/1.1 representation of a response,
// including the time it is being stored at.
// The response body is consumed and replaced, so the response stays readable.
func ResponseToBytes(res *http.Response, storedAt time.Time) ([]byte, error) {
	var body []byte
	if res.Body != nil {
		var err error
		body, err = io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
	}
	// set response body back
	res.Body = io.NopCloser(bytes.NewReader(body))

	out := &http.Response{
		Status:        res.Status,
		StatusCode:    res.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        res.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       res.Request,
	}
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	out.Header.Set(storedAtHeaderName, strconv.FormatInt(storedAt.Unix(), 10))

	// write response to buffer
	buf := &bytes.Buffer{}
	if err := out.Write(buf); err != nil {
		return nil, fmt.Errorf("write response: %w", err)
	}
	return buf.Bytes(), nil
}

// BytesToResponse reads a stored response.
// The request is attached to the response as the request that matched it.
func BytesToResponse(b []byte, req *http.Request) (StoredResponse, error) {
	sRes := StoredResponse{}
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), req)
	if err != nil {
		return sRes, err
	}
	if storedAt, err := strconv.ParseInt(res.Header.Get(storedAtHeaderName), 10, 64); err == nil {
		sRes.StoredAt = time.Unix(storedAt, 0)
	}
	// delete extra headers
	res.Header.Del(storedAtHeaderName)
	sRes.Response = res
	return sRes, nil
}
