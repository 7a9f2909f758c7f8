// Package certgen creates self-signed TLS certificates so phones on the local
// network can reach the server over HTTPS, which browsers require before
// granting microphone access.
package certgen

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const (
	// DefaultCommonName is the subject and issuer of generated certificates.
	DefaultCommonName = "Claude Line Local"
	DefaultOutputDir  = "certs"
	DefaultDays       = 365

	certFile = "cert.pem"
	keyFile  = "key.pem"
)

// Options controls Generate.
type Options struct {
	OutputDir  string
	Days       int
	CommonName string
	// IPs are added as subject alternative names. Entries that are not
	// IPv4 addresses are skipped.
	IPs []string
}

// Paths are the absolute locations of the written files.
type Paths struct {
	Cert string
	Key  string
}

// interfaceAddrs is swapped in tests.
var interfaceAddrs = net.InterfaceAddrs

// dialProbe finds the address used for outbound traffic. No packets are sent.
var dialProbe = func() (net.Addr, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return conn.LocalAddr(), nil
}

// LocalIPs returns the machine's non-loopback IPv4 addresses, sorted. It
// returns an empty slice when none can be found.
func LocalIPs() []string {
	seen := make(map[string]struct{})

	if addrs, err := interfaceAddrs(); err == nil {
		for _, a := range addrs {
			if ip := ipv4Of(a); ip != nil && !ip.IsLoopback() {
				seen[ip.String()] = struct{}{}
			}
		}
	}

	if len(seen) == 0 {
		if a, err := dialProbe(); err == nil {
			if ip := ipv4Of(a); ip != nil && !ip.IsLoopback() {
				seen[ip.String()] = struct{}{}
			}
		}
	}

	ips := make([]string, 0, len(seen))
	for ip := range seen {
		ips = append(ips, ip)
	}
	sort.Strings(ips)
	return ips
}

func ipv4Of(a net.Addr) net.IP {
	var ip net.IP
	switch v := a.(type) {
	case *net.IPNet:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	case *net.UDPAddr:
		ip = v.IP
	default:
		return nil
	}
	return ip.To4()
}

// Generate writes a self-signed ECDSA P-256 certificate and its PKCS#8 key
// into opts.OutputDir. The certificate always covers localhost and
// 127.0.0.1.
func Generate(opts Options) (Paths, error) {
	if opts.OutputDir == "" {
		opts.OutputDir = DefaultOutputDir
	}
	if opts.Days <= 0 {
		opts.Days = DefaultDays
	}
	if opts.CommonName == "" {
		opts.CommonName = DefaultCommonName
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return Paths{}, fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return Paths{}, fmt.Errorf("serial number: %w", err)
	}

	now := time.Now().UTC()
	name := pkix.Name{CommonName: opts.CommonName}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               name,
		Issuer:                name,
		NotBefore:             now,
		NotAfter:              now.AddDate(0, 0, opts.Days),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           sanIPs(opts.IPs),
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return Paths{}, fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return Paths{}, fmt.Errorf("marshal key: %w", err)
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return Paths{}, fmt.Errorf("create output dir: %w", err)
	}
	dir, err := filepath.Abs(opts.OutputDir)
	if err != nil {
		return Paths{}, err
	}
	paths := Paths{Cert: filepath.Join(dir, certFile), Key: filepath.Join(dir, keyFile)}

	if err := writePEM(paths.Key, "PRIVATE KEY", keyDER, 0o600); err != nil {
		return Paths{}, err
	}
	if err := writePEM(paths.Cert, "CERTIFICATE", der, 0o644); err != nil {
		return Paths{}, err
	}
	return paths, nil
}

// sanIPs returns 127.0.0.1 followed by the valid, distinct IPv4 entries of ips.
func sanIPs(ips []string) []net.IP {
	out := []net.IP{net.IPv4(127, 0, 0, 1).To4()}
	seen := map[string]bool{"127.0.0.1": true}
	for _, s := range ips {
		ip := net.ParseIP(s).To4()
		if ip == nil || seen[ip.String()] {
			continue
		}
		seen[ip.String()] = true
		out = append(out, ip)
	}
	return out
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	// WriteFile keeps the mode of an existing file.
	return os.Chmod(path, perm)
}

// PrintInstructions explains how to start the server with the new
// certificate and trust it on a phone.
func PrintInstructions(w io.Writer, paths Paths, ips []string, port int) {
	fmt.Fprintln(w, "\n--- Certificate Generated ---")
	fmt.Fprintf(w, "  Certificate: %s\n", paths.Cert)
	fmt.Fprintf(w, "  Private key: %s\n", paths.Key)

	fmt.Fprintln(w, "\n--- Start Server with HTTPS ---")
	fmt.Fprintf(w, "  claude-line --ssl-certfile %s --ssl-keyfile %s\n", paths.Cert, paths.Key)

	if len(ips) > 0 {
		fmt.Fprintln(w, "\n--- Access from your phone ---")
		for _, ip := range ips {
			fmt.Fprintf(w, "  https://%s:%d\n", ip, port)
		}
	}

	fmt.Fprintln(w, "\n--- iOS: Trust the certificate ---")
	fmt.Fprintln(w, "  1. Transfer cert.pem to your iPhone (AirDrop, email, or HTTP)")
	fmt.Fprintln(w, "  2. Open it to install the profile")
	fmt.Fprintln(w, "  3. Go to Settings > General > About > Certificate Trust Settings")
	fmt.Fprintf(w, "  4. Enable full trust for '%s'\n", DefaultCommonName)

	fmt.Fprintln(w, "\n--- Android: Trust the certificate ---")
	fmt.Fprintln(w, "  1. Transfer cert.pem to your Android device")
	fmt.Fprintln(w, "  2. Go to Settings > Security > Install certificate > CA certificate")
	fmt.Fprintln(w, "  3. Select the cert.pem file")

	fmt.Fprintln(w, "\n--- Browser: Accept the warning ---")
	fmt.Fprintln(w, "  Open the HTTPS URL and accept the self-signed certificate warning.")
	fmt.Fprintln(w)
}
