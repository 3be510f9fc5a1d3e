package label

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// BedrockDescriber calls the Bedrock control-plane GetInferenceProfile
// operation, signed with AWS Signature V4. This mirrors the teacher's
// hand-rolled signRequest function rather than adding the full AWS SDK
// for a single read-only call.
type BedrockDescriber struct {
	AccessKey string
	SecretKey string
	HTTPClient *http.Client
}

var _ ProfileDescriber = (*BedrockDescriber)(nil)

type describeProfileResponse struct {
	Models []struct {
		Region  string `json:"region"`
		ModelID string `json:"modelArn"`
	} `json:"models"`
}

// DescribeProfile signs and issues the describe call, returning the
// profile's region -> model-id map.
func (d *BedrockDescriber) DescribeProfile(ctx context.Context, region, arn string) (map[string]string, error) {
	host := fmt.Sprintf("bedrock.%s.amazonaws.com", region)
	url := fmt.Sprintf("https://%s/inference-profiles/%s", host, arn)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	d.signRequest(req, nil, region)

	client := d.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("label: describe-profile returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed describeProfileResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("label: parsing describe-profile response: %w", err)
	}

	out := make(map[string]string, len(parsed.Models))
	for _, m := range parsed.Models {
		out[m.Region] = m.ModelID
	}
	return out, nil
}

// signRequest applies AWS Signature V4, following the same canonical-request
// construction as the teacher's provider connector.
func (d *BedrockDescriber) signRequest(req *http.Request, payload []byte, region string) {
	now := time.Now().UTC()
	dateStamp := now.Format("20060102")
	amzDate := now.Format("20060102T150405Z")

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Amz-Date", amzDate)

	if payload == nil {
		payload = []byte{}
	}
	payloadHash := sha256Hex(payload)
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)

	service := "bedrock"
	credentialScope := fmt.Sprintf("%s/%s/%s/aws4_request", dateStamp, region, service)

	signedHeaders := "content-type;host;x-amz-content-sha256;x-amz-date"
	canonicalHeaders := fmt.Sprintf("content-type:%s\nhost:%s\nx-amz-content-sha256:%s\nx-amz-date:%s\n",
		req.Header.Get("Content-Type"),
		req.URL.Host,
		payloadHash,
		amzDate,
	)

	canonicalRequest := strings.Join([]string{
		req.Method,
		req.URL.Path,
		req.URL.RawQuery,
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	stringToSign := fmt.Sprintf("AWS4-HMAC-SHA256\n%s\n%s\n%s",
		amzDate,
		credentialScope,
		sha256Hex([]byte(canonicalRequest)),
	)

	kDate := hmacSHA256([]byte("AWS4"+d.SecretKey), []byte(dateStamp))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	kSigning := hmacSHA256(kService, []byte("aws4_request"))
	signature := hex.EncodeToString(hmacSHA256(kSigning, []byte(stringToSign)))

	authHeader := fmt.Sprintf("AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		d.AccessKey,
		credentialScope,
		signedHeaders,
		signature,
	)
	req.Header.Set("Authorization", authHeader)
}

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
