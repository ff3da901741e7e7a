package compliance

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trailguard/trailguard/internal/domain/audit"
	"github.com/trailguard/trailguard/internal/domain/errors"
)

// Format is a supported export serialization.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXML  Format = "xml"
	FormatPDF  Format = "pdf"
)

// ParseFormat validates a format name.
func ParseFormat(raw string) (Format, error) {
	f := Format(raw)
	switch f {
	case FormatJSON, FormatCSV, FormatXML, FormatPDF:
		return f, nil
	}
	return "", errors.NewValidationError("format must be json, csv, xml, or pdf")
}

// Compression is the optional container stage of an export.
type Compression string

const (
	CompressionNone Compression = ""
	CompressionGzip Compression = "gzip"
	CompressionZip  Compression = "zip"
)

// ExportOptions tune the transform chain: serialize, compress, encrypt.
// Encryption applies after compression; the checksum always covers the
// final bytes.
type ExportOptions struct {
	Format      Format
	Compression Compression
	// EncryptionKey, when 32 bytes, turns on AES-256-GCM. Shorter non-empty
	// keys are a CONFIG_ERROR.
	EncryptionKey []byte
}

// ExportResult is a finished artifact plus its provenance.
type ExportResult struct {
	ExportID    uuid.UUID   `json:"exportId"`
	Format      Format      `json:"format"`
	Data        []byte      `json:"-"`
	Filename    string      `json:"filename"`
	ContentType string      `json:"contentType"`
	Size        int64       `json:"size"`
	Compression Compression `json:"compression,omitempty"`
	// Encryption names the cipher of the final bytes; empty means plaintext.
	Encryption string `json:"encryption,omitempty"`
	// SHA256 is the lowercase hex checksum of Data.
	SHA256    string `json:"sha256"`
	Encrypted bool   `json:"encrypted"`
	// Nonce is the hex GCM nonce when encrypted.
	Nonce string `json:"nonce,omitempty"`
}

// ExportReport serializes a report through the transform chain.
func ExportReport(rep *Report, opts ExportOptions) (*ExportResult, error) {
	var (
		data []byte
		err  error
	)
	switch opts.Format {
	case FormatJSON:
		data, err = json.MarshalIndent(rep, "", "  ")
	case FormatCSV:
		data, err = reportCSV(rep)
	case FormatXML:
		data, err = xml.MarshalIndent(reportXML(rep), "", "  ")
	case FormatPDF:
		data, err = reportPDF(rep)
	default:
		return nil, errors.NewValidationError("unknown export format")
	}
	if err != nil {
		return nil, errors.NewInternalError("failed to serialize report").WithCause(err)
	}

	base := fmt.Sprintf("%s-report-%s", strings.ToLower(string(rep.Framework)),
		rep.GeneratedAt.UTC().Format("20060102T150405Z"))
	return finalize(data, base+"."+string(opts.Format), contentType(opts.Format), opts)
}

// ExportEvents serializes raw events (GDPR subject export) through the same
// chain.
func ExportEvents(events []*audit.Event, organizationID string, opts ExportOptions) (*ExportResult, error) {
	var (
		data []byte
		err  error
	)
	switch opts.Format {
	case FormatJSON:
		data, err = json.MarshalIndent(events, "", "  ")
	case FormatCSV:
		data, err = eventsCSV(events)
	case FormatXML:
		data, err = xml.MarshalIndent(eventsXML(events), "", "  ")
	case FormatPDF:
		data, err = eventsPDF(events, organizationID)
	default:
		return nil, errors.NewValidationError("unknown export format")
	}
	if err != nil {
		return nil, errors.NewInternalError("failed to serialize events").WithCause(err)
	}

	base := fmt.Sprintf("audit-export-%s", time.Now().UTC().Format("20060102T150405Z"))
	return finalize(data, base+"."+string(opts.Format), contentType(opts.Format), opts)
}

func finalize(data []byte, filename, ctype string, opts ExportOptions) (*ExportResult, error) {
	var err error
	switch opts.Compression {
	case CompressionNone:
	case CompressionGzip:
		if data, err = gzipBytes(data); err != nil {
			return nil, err
		}
		filename += ".gz"
		ctype = "application/gzip"
	case CompressionZip:
		if data, err = zipBytes(filename, data); err != nil {
			return nil, err
		}
		filename += ".zip"
		ctype = "application/zip"
	default:
		return nil, errors.NewValidationError("compression must be gzip or zip")
	}

	result := &ExportResult{
		ExportID:    uuid.New(),
		Format:      opts.Format,
		Filename:    filename,
		ContentType: ctype,
		Compression: opts.Compression,
	}
	if len(opts.EncryptionKey) > 0 {
		encrypted, nonce, err := encryptAESGCM(data, opts.EncryptionKey)
		if err != nil {
			return nil, err
		}
		data = encrypted
		result.Encrypted = true
		result.Encryption = "aes-256-gcm"
		result.Nonce = hex.EncodeToString(nonce)
		result.Filename += ".enc"
		result.ContentType = "application/octet-stream"
	}

	sum := sha256.Sum256(data)
	result.Data = data
	result.Size = int64(len(data))
	result.SHA256 = hex.EncodeToString(sum[:])
	return result, nil
}

func contentType(f Format) string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatCSV:
		return "text/csv"
	case FormatXML:
		return "application/xml"
	case FormatPDF:
		return "application/pdf"
	}
	return "application/octet-stream"
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, errors.NewInternalError("gzip failed").WithCause(err)
	}
	if err := zw.Close(); err != nil {
		return nil, errors.NewInternalError("gzip close failed").WithCause(err)
	}
	return buf.Bytes(), nil
}

func zipBytes(name string, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	if err != nil {
		return nil, errors.NewInternalError("zip entry failed").WithCause(err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, errors.NewInternalError("zip write failed").WithCause(err)
	}
	if err := zw.Close(); err != nil {
		return nil, errors.NewInternalError("zip close failed").WithCause(err)
	}
	return buf.Bytes(), nil
}

// encryptAESGCM seals data with AES-256-GCM and a random nonce. The nonce is
// returned separately and also prepended to the ciphertext so the artifact
// is self-contained.
func encryptAESGCM(data, key []byte) (ciphertext, nonce []byte, err error) {
	if len(key) != 32 {
		return nil, nil, errors.NewConfigError("export encryption key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, errors.NewCryptoError("failed to init cipher").WithCause(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, errors.NewCryptoError("failed to init gcm").WithCause(err)
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, errors.NewCryptoError("failed to generate nonce").WithCause(err)
	}
	sealed := gcm.Seal(nil, nonce, data, nil)
	return append(append([]byte{}, nonce...), sealed...), nonce, nil
}

// DecryptExport reverses encryptAESGCM on a self-contained artifact.
func DecryptExport(data, key []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, errors.NewConfigError("export encryption key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.NewCryptoError("failed to init cipher").WithCause(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.NewCryptoError("failed to init gcm").WithCause(err)
	}
	if len(data) < gcm.NonceSize() {
		return nil, errors.NewCryptoError("ciphertext shorter than nonce")
	}
	plain, err := gcm.Open(nil, data[:gcm.NonceSize()], data[gcm.NonceSize():], nil)
	if err != nil {
		return nil, errors.NewCryptoError("decryption failed").WithCause(err)
	}
	return plain, nil
}

func reportCSV(rep *Report) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	rows := [][]string{
		{"metric", "key", "value"},
		{"totalEvents", "", strconv.FormatInt(rep.Summary.TotalEvents, 10)},
		{"uniquePrincipals", "", strconv.FormatInt(rep.Summary.UniquePrincipals, 10)},
		{"failureRate", "", strconv.FormatFloat(rep.Summary.FailureRate, 'f', 4, 64)},
	}
	for k, v := range rep.Summary.ByStatus {
		rows = append(rows, []string{"byStatus", k, strconv.FormatInt(v, 10)})
	}
	for k, v := range rep.Summary.ByClassification {
		rows = append(rows, []string{"byClassification", k, strconv.FormatInt(v, 10)})
	}
	for k, v := range rep.Summary.ByAction {
		rows = append(rows, []string{"byAction", k, strconv.FormatInt(v, 10)})
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func eventsCSV(events []*audit.Event) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	rows := [][]string{{
		"id", "timestamp", "action", "status", "principalId", "organizationId",
		"targetResourceType", "targetResourceId", "dataClassification",
		"outcomeDescription", "hash",
	}}
	for _, e := range events {
		rows = append(rows, []string{
			e.ID.String(),
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.Action,
			string(e.Status),
			e.PrincipalID,
			e.OrganizationID,
			deref(e.TargetResourceType),
			deref(e.TargetResourceID),
			string(e.DataClassification),
			e.OutcomeDescription,
			e.Hash,
		})
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// XML projections: encoding/xml cannot marshal maps, so counters are
// flattened into key/value entries.

type xmlCount struct {
	Key   string `xml:"key,attr"`
	Count int64  `xml:",chardata"`
}

type xmlReport struct {
	XMLName          xml.Name   `xml:"complianceReport"`
	ID               string     `xml:"id"`
	Framework        string     `xml:"framework"`
	OrganizationID   string     `xml:"organizationId"`
	PeriodFrom       string     `xml:"period>from"`
	PeriodTo         string     `xml:"period>to"`
	GeneratedAt      string     `xml:"generatedAt"`
	TotalEvents      int64      `xml:"summary>totalEvents"`
	UniquePrincipals int64      `xml:"summary>uniquePrincipals"`
	FailureRate      float64    `xml:"summary>failureRate"`
	ByStatus         []xmlCount `xml:"summary>byStatus>entry"`
	ByClassification []xmlCount `xml:"summary>byClassification>entry"`
	ByAction         []xmlCount `xml:"summary>byAction>entry"`
}

func xmlCounts(m map[string]int64) []xmlCount {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]xmlCount, 0, len(keys))
	for _, k := range keys {
		out = append(out, xmlCount{Key: k, Count: m[k]})
	}
	return out
}

func reportXML(rep *Report) interface{} {
	return xmlReport{
		ID:               rep.ID.String(),
		Framework:        string(rep.Framework),
		OrganizationID:   rep.OrganizationID,
		PeriodFrom:       rep.Period.From.UTC().Format(time.RFC3339),
		PeriodTo:         rep.Period.To.UTC().Format(time.RFC3339),
		GeneratedAt:      rep.GeneratedAt.UTC().Format(time.RFC3339),
		TotalEvents:      rep.Summary.TotalEvents,
		UniquePrincipals: rep.Summary.UniquePrincipals,
		FailureRate:      rep.Summary.FailureRate,
		ByStatus:         xmlCounts(rep.Summary.ByStatus),
		ByClassification: xmlCounts(rep.Summary.ByClassification),
		ByAction:         xmlCounts(rep.Summary.ByAction),
	}
}

type xmlEvent struct {
	ID                 string `xml:"id"`
	Timestamp          string `xml:"timestamp"`
	Action             string `xml:"action"`
	Status             string `xml:"status"`
	PrincipalID        string `xml:"principalId"`
	OrganizationID     string `xml:"organizationId"`
	TargetResourceType string `xml:"targetResourceType,omitempty"`
	TargetResourceID   string `xml:"targetResourceId,omitempty"`
	DataClassification string `xml:"dataClassification"`
	OutcomeDescription string `xml:"outcomeDescription"`
	Hash               string `xml:"hash"`
}

type xmlEvents struct {
	XMLName xml.Name   `xml:"auditEvents"`
	Events  []xmlEvent `xml:"event"`
}

func eventsXML(events []*audit.Event) interface{} {
	out := xmlEvents{Events: make([]xmlEvent, 0, len(events))}
	for _, e := range events {
		out.Events = append(out.Events, xmlEvent{
			ID:                 e.ID.String(),
			Timestamp:          e.Timestamp.UTC().Format(time.RFC3339Nano),
			Action:             e.Action,
			Status:             string(e.Status),
			PrincipalID:        e.PrincipalID,
			OrganizationID:     e.OrganizationID,
			TargetResourceType: deref(e.TargetResourceType),
			TargetResourceID:   deref(e.TargetResourceID),
			DataClassification: string(e.DataClassification),
			OutcomeDescription: e.OutcomeDescription,
			Hash:               e.Hash,
		})
	}
	return out
}
