package utils

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/compute/metadata"
	"cloud.google.com/go/storage"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/iamcredentials/v1"
	"google.golang.org/api/option"
)

const StorageProviderGCS = "gcs"

// STORAGE_PROVIDER only knows gcs today; the value is carried in logs.
func GetStorageProvider() string {
	provider := strings.TrimSpace(strings.ToLower(os.Getenv("STORAGE_PROVIDER")))
	if provider == "" {
		return StorageProviderGCS
	}
	return provider
}

// EvidenceUpload is what a capture client needs to PUT one evidence file.
// Headers must be sent verbatim or the signature will not match.
type EvidenceUpload struct {
	UploadURL string
	Method    string
	Headers   map[string]string
	ObjectKey string
	AccessURL string
	ExpiresAt time.Time
}

// urlSigner holds either a private key or a remote SignBlob function.
type urlSigner struct {
	accessID   string
	privateKey []byte
	signBytes  func([]byte) ([]byte, error)
}

func (s urlSigner) apply(opts *storage.SignedURLOptions) {
	opts.GoogleAccessID = s.accessID
	if len(s.privateKey) > 0 {
		opts.PrivateKey = s.privateKey
		return
	}
	opts.SignBytes = s.signBytes
}

const contentLengthRangeHeader = "x-goog-content-length-range"

// SignEvidenceUpload returns a V4 signed PUT URL bound to contentType and
// capped at maxBytes. The engine only ever stores the object key.
func SignEvidenceUpload(ctx context.Context, objectKey, contentType string, maxBytes int64, expires time.Duration) (*EvidenceUpload, error) {
	if provider := GetStorageProvider(); provider != StorageProviderGCS {
		return nil, fmt.Errorf("storage provider %q is not supported for signed uploads", provider)
	}
	bucket, err := evidenceBucket()
	if err != nil {
		return nil, err
	}
	signer, err := resolveSigner(ctx)
	if err != nil {
		return nil, err
	}

	lengthRange := fmt.Sprintf("0,%d", maxBytes)
	opts := &storage.SignedURLOptions{
		Scheme:      storage.SigningSchemeV4,
		Method:      "PUT",
		Expires:     time.Now().Add(expires),
		ContentType: contentType,
		Headers:     []string{contentLengthRangeHeader + ":" + lengthRange},
	}
	signer.apply(opts)

	signedURL, err := storage.SignedURL(bucket, objectKey, opts)
	if err != nil {
		return nil, fmt.Errorf("sign evidence upload: %w", err)
	}
	return &EvidenceUpload{
		UploadURL: signedURL,
		Method:    opts.Method,
		Headers: map[string]string{
			"Content-Type":           contentType,
			contentLengthRangeHeader: lengthRange,
		},
		ObjectKey: objectKey,
		AccessURL: BuildObjectAccessURL(objectKey),
		ExpiresAt: opts.Expires,
	}, nil
}

// resolveSigner prefers an explicit key (GCS_CREDENTIALS_JSON, then
// GCS_SIGNER_EMAIL + GCS_SIGNER_PRIVATE_KEY) and falls back to IAM SignBlob
// with the runtime service account.
func resolveSigner(ctx context.Context) (urlSigner, error) {
	if raw := strings.TrimSpace(os.Getenv("GCS_CREDENTIALS_JSON")); raw != "" {
		return signerFromCredentialsJSON(raw)
	}
	email := strings.TrimSpace(os.Getenv("GCS_SIGNER_EMAIL"))
	if key := strings.TrimSpace(os.Getenv("GCS_SIGNER_PRIVATE_KEY")); email != "" && key != "" {
		return urlSigner{accessID: email, privateKey: normalizePrivateKey(key)}, nil
	}
	if email == "" && metadata.OnGCE() {
		defaultEmail, err := metadata.Email("default")
		if err != nil {
			return urlSigner{}, fmt.Errorf("failed to get default service account email: %w", err)
		}
		email = defaultEmail
	}
	if email == "" {
		return urlSigner{}, errors.New("GCS_SIGNER_EMAIL is required when no private key is provided")
	}
	return iamBlobSigner(ctx, email)
}

func signerFromCredentialsJSON(raw string) (urlSigner, error) {
	var key struct {
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.Unmarshal([]byte(raw), &key); err != nil {
		return urlSigner{}, fmt.Errorf("invalid GCS_CREDENTIALS_JSON: %w", err)
	}
	if key.ClientEmail == "" || key.PrivateKey == "" {
		return urlSigner{}, errors.New("GCS_CREDENTIALS_JSON missing client_email or private_key")
	}
	return urlSigner{accessID: key.ClientEmail, privateKey: normalizePrivateKey(key.PrivateKey)}, nil
}

// Keys pasted into env vars usually carry literal \n sequences.
func normalizePrivateKey(key string) []byte {
	return []byte(strings.ReplaceAll(key, "\\n", "\n"))
}

func iamBlobSigner(ctx context.Context, email string) (urlSigner, error) {
	creds, err := google.FindDefaultCredentials(ctx, iamcredentials.CloudPlatformScope)
	if err != nil {
		return urlSigner{}, fmt.Errorf("failed to load ADC credentials: %w", err)
	}
	svc, err := iamcredentials.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return urlSigner{}, fmt.Errorf("failed to create iamcredentials service: %w", err)
	}
	resource := "projects/-/serviceAccounts/" + email
	return urlSigner{
		accessID: email,
		signBytes: func(data []byte) ([]byte, error) {
			resp, err := svc.Projects.ServiceAccounts.SignBlob(resource, &iamcredentials.SignBlobRequest{
				Payload: base64.StdEncoding.EncodeToString(data),
			}).Do()
			if err != nil {
				return nil, err
			}
			return base64.StdEncoding.DecodeString(resp.SignedBlob)
		},
	}, nil
}
