package rotation

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/gameforge/gfops/internal/logging"
	"github.com/gameforge/gfops/internal/secure"
	"github.com/gameforge/gfops/internal/vault"
)

// DefaultTLSCommonName is used when the config does not name the
// certificate subject.
const DefaultTLSCommonName = "gameforge.local"

// TLSRotator issues a fresh self-signed ECDSA P-256 certificate and
// stores the PEM pair in Vault. Internal services pick the new pair up
// from KV; no external CA is involved.
type TLSRotator struct {
	store      vault.Store
	commonName string
	hosts      []string
	logger     *logging.Logger
	now        func() time.Time
}

// NewTLSRotator creates the certificate rotator. Hosts become SANs; the
// common name is always included.
func NewTLSRotator(store vault.Store, commonName string, hosts []string, logger *logging.Logger) *TLSRotator {
	if commonName == "" {
		commonName = DefaultTLSCommonName
	}
	return &TLSRotator{
		store:      store,
		commonName: commonName,
		hosts:      hosts,
		logger:     logger,
		now:        time.Now,
	}
}

// Type implements Rotator.
func (r *TLSRotator) Type() SecretType {
	return TypeTLS
}

// tlsCarry keeps the issued serial for verification and the version to
// restore on rollback. The private key stays in protected memory until
// verification confirms the write.
type tlsCarry struct {
	serial      string
	notAfter    time.Time
	key         *secure.Buffer
	prevVersion int
}

// Rotate generates the key pair and certificate and writes both PEMs to
// <env>/tls/<common-name> in one KV version.
func (r *TLSRotator) Rotate(ctx context.Context, req Request) (*Result, error) {
	path := kvPath(req.Environment, "tls", r.commonName)
	now := r.now()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate tls key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate certificate serial: %w", err)
	}

	// Validity spans two rotation intervals so one missed rotation never
	// expires the certificate in production.
	notAfter := now.Add(2 * req.Frequency)
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: r.commonName, Organization: []string{"GameForge"}},
		NotBefore:             now.Add(-5 * time.Minute),
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}
	template.DNSNames = append(template.DNSNames, r.commonName)
	for _, host := range r.hosts {
		if host == r.commonName {
			continue
		}
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal tls key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	carry := &tlsCarry{
		serial:   serial.String(),
		notAfter: notAfter,
		key:      secure.NewBuffer(keyPEM),
	}

	version, err := r.store.WriteKV(ctx, path, map[string]interface{}{
		"certificate": string(certPEM),
		"private_key": string(keyPEM),
		"not_after":   notAfter.UTC().Format(time.RFC3339),
		"rotated_at":  rotatedAt(now),
	})
	zero(keyPEM)
	if err != nil {
		carry.key.Destroy()
		return nil, fmt.Errorf("write tls material: %w", err)
	}
	if version > 1 {
		carry.prevVersion = version - 1
	}

	return &Result{
		Type:           TypeTLS,
		SecretsRotated: []string{"certificate", "private_key"},
		VaultPath:      path,
		Version:        version,
		carry:          carry,
	}, nil
}

// Verify reads the stored PEM back, parses the certificate, and checks
// it is the one just issued and not already expired.
func (r *TLSRotator) Verify(ctx context.Context, res *Result) error {
	carry, ok := res.carry.(*tlsCarry)
	if !ok {
		return fmt.Errorf("tls rotation result carries no certificate state")
	}

	data, err := r.store.ReadKV(ctx, res.VaultPath)
	if err != nil {
		return fmt.Errorf("read back tls material: %w", err)
	}

	certPEM, _ := data["certificate"].(string)
	cert, err := parseCertificatePEM(certPEM)
	if err != nil {
		return err
	}

	if cert.SerialNumber.String() != carry.serial {
		return fmt.Errorf("stored certificate is not the one just issued (serial mismatch)")
	}
	if !r.now().Before(cert.NotAfter) {
		return fmt.Errorf("stored certificate is already expired (not_after %s)", cert.NotAfter.Format(time.RFC3339))
	}
	if keyPEM, _ := data["private_key"].(string); keyPEM == "" {
		return fmt.Errorf("private key missing from stored secret")
	}

	carry.key.Destroy()
	return nil
}

// Rollback restores the previous certificate version. Services that
// already loaded the failed pair re-read it on their next KV poll.
func (r *TLSRotator) Rollback(ctx context.Context, res *Result) error {
	carry, ok := res.carry.(*tlsCarry)
	if !ok {
		return fmt.Errorf("tls rotation result carries no rollback state")
	}
	carry.key.Destroy()

	if carry.prevVersion < 1 {
		r.logger.Warn("No previous tls certificate version to restore")
		return nil
	}
	return restoreVersion(ctx, r.store, res.VaultPath, carry.prevVersion)
}

// parseCertificatePEM decodes a single PEM certificate block.
func parseCertificatePEM(certPEM string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("stored value is not a PEM certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse stored certificate: %w", err)
	}
	return cert, nil
}

// zero wipes a byte slice holding secret material.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
