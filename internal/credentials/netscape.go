package credentials

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const netscapeHeader = "# Netscape HTTP Cookie File"

// Cookie is one harvested browser cookie in the structured cache format.
type Cookie struct {
	Name    string `json:"name"`
	Value   string `json:"value"`
	Domain  string `json:"domain"`
	Path    string `json:"path"`
	Expires int64  `json:"expires"`
	Secure  bool   `json:"secure"`
}

// WriteNetscapeFile writes cookies in the textual wire format yt-dlp style
// consumers expect. Cookies without a name or domain are skipped.
func WriteNetscapeFile(path string, cookies []Cookie) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return &StorageError{Operation: "write_netscape", Err: err}
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	fmt.Fprintln(w, netscapeHeader)
	fmt.Fprintln(w, "# Generated by media_downloader. Edit at your own risk.")
	fmt.Fprintln(w)

	written := 0

	for _, c := range cookies {
		if c.Name == "" || c.Domain == "" {
			continue
		}

		flag := "FALSE"
		if strings.HasPrefix(c.Domain, ".") {
			flag = "TRUE"
		}

		secure := "FALSE"
		if c.Secure {
			secure = "TRUE"
		}

		expires := c.Expires
		if expires < 0 {
			expires = 0
		}

		path := c.Path
		if path == "" {
			path = "/"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			c.Domain, flag, path, secure, expires, c.Name, c.Value)

		written++
	}

	if written == 0 {
		return &GenerationError{Step: "persist", Err: fmt.Errorf("no usable cookies to write")}
	}

	if err := w.Flush(); err != nil {
		return &StorageError{Operation: "write_netscape", Err: err}
	}

	return nil
}

// ValidateNetscapeFile checks that path exists and holds at least one
// well-formed cookie line.
func ValidateNetscapeFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cookie artifact unreadable: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)

	sawHeader := false
	cookieLines := 0

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#") {
			if strings.HasPrefix(line, netscapeHeader) {
				sawHeader = true
			}

			continue
		}

		if len(strings.Split(line, "\t")) == 7 {
			cookieLines++
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("cookie artifact unreadable: %w", err)
	}

	if !sawHeader {
		return fmt.Errorf("cookie artifact is missing the Netscape header")
	}

	if cookieLines == 0 {
		return fmt.Errorf("cookie artifact holds no cookies")
	}

	return nil
}

// ParseNetscapeFile loads the artifact back as http.Cookies for adapters
// that attach them to their own HTTP client.
func ParseNetscapeFile(path string) ([]*http.Cookie, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cookie artifact unreadable: %w", err)
	}
	defer f.Close()

	var cookies []*http.Cookie

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != 7 {
			continue
		}

		expires, _ := strconv.ParseInt(fields[4], 10, 64)

		c := &http.Cookie{
			Domain: fields[0],
			Path:   fields[2],
			Secure: fields[3] == "TRUE",
			Name:   fields[5],
			Value:  fields[6],
		}

		if expires > 0 {
			c.Expires = time.Unix(expires, 0)
		}

		cookies = append(cookies, c)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cookie artifact unreadable: %w", err)
	}

	return cookies, nil
}
