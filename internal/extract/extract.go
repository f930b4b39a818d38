package extract

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/slok/formbot/internal/log"
	"github.com/slok/formbot/internal/model"
)

// maxBodySize limits the body bytes read from a message.
const maxBodySize = 10 * 1024 * 1024

// Extractor extracts the email content of an uploaded document.
type Extractor interface {
	Extract(ctx context.Context, r io.Reader) (*model.EmailContent, error)
}

// EMLExtractorConfig is the configuration for the EML extractor.
type EMLExtractorConfig struct {
	Logger log.Logger
}

func (c *EMLExtractorConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "extract.EML"})
	return nil
}

// EMLExtractor extracts the subject and the plain text body of RFC 5322 messages.
type EMLExtractor struct {
	logger log.Logger
}

// NewEMLExtractor returns a new EML extractor.
func NewEMLExtractor(cfg EMLExtractorConfig) (*EMLExtractor, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &EMLExtractor{logger: cfg.Logger}, nil
}

var _ Extractor = &EMLExtractor{}

// Extract returns the message content. Multipart messages use their first text/plain part
// (an empty body when there is none), single part messages use the body whatever its
// type. Bodies are decoded from their charset to UTF-8. Errors wrap model.ErrExtraction.
func (e *EMLExtractor) Extract(ctx context.Context, r io.Reader) (*model.EmailContent, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return nil, fmt.Errorf("could not read message: %w: %w", model.ErrExtraction, err)
	}

	dec := &mime.WordDecoder{CharsetReader: charsetReader}
	subject, err := dec.DecodeHeader(msg.Header.Get("Subject"))
	if err != nil {
		e.logger.Warningf("Could not decode subject, using it raw: %s", err)
		subject = msg.Header.Get("Subject")
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	body, err := readBody(textproto.MIMEHeader(msg.Header), msg.Body, true)
	if errors.Is(err, errNoTextPart) {
		e.logger.Warningf("Message has no plain text part, only the subject is extracted")
		body, err = "", nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read body: %w: %w", model.ErrExtraction, err)
	}

	e.logger.Debugf("Extracted email with %d body chars", len(body))

	return &model.EmailContent{
		Subject: strings.TrimSpace(subject),
		Body:    strings.TrimSpace(body),
	}, nil
}

var errNoTextPart = errors.New("no text/plain part found")

func readBody(h textproto.MIMEHeader, r io.Reader, anyType bool) (string, error) {
	ct := h.Get("Content-Type")
	if ct == "" {
		ct = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return "", fmt.Errorf("invalid content type %q: %w", ct, err)
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return "", fmt.Errorf("multipart message without boundary")
		}

		mr := multipart.NewReader(r, boundary)
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				return "", errNoTextPart
			}
			if err != nil {
				return "", fmt.Errorf("could not read part: %w", err)
			}

			body, err := readBody(part.Header, part, false)
			if errors.Is(err, errNoTextPart) {
				continue
			}
			return body, err
		}
	}

	if !anyType && mediaType != "text/plain" {
		return "", errNoTextPart
	}

	r = io.LimitReader(r, maxBodySize)
	switch strings.ToLower(strings.TrimSpace(h.Get("Content-Transfer-Encoding"))) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}

	// Unknown charsets keep the raw bytes.
	if cs := params["charset"]; cs != "" {
		if dr, err := charsetReader(cs, r); err == nil {
			r = dr
		}
	}

	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("could not decode body: %w", err)
	}

	return strings.ToValidUTF8(string(b), ""), nil
}

func charsetReader(charset string, r io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
	}

	return enc.NewDecoder().Reader(r), nil
}
