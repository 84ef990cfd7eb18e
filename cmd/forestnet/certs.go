package main

import (
	"fmt"
	"net"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forestnet/forestnet/internal/certs"
	"github.com/forestnet/forestnet/internal/ui"
)

var (
	certsDir            string
	certsName           string
	certsHosts          []string
	certsCACert         string
	certsCAKey          string
	certsCAName         string
	certsValidDays      int
	certsPasswordPrompt bool
)

var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "Manage TLS certificates",
}

var certsGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a CA and a server certificate",
	Long: `Generate a server certificate for an https endpoint.

Without --ca-cert a new certificate authority is created and written as
ca.crt and ca.key next to the server certificate; clients pass ca.crt
with --ca. With --ca-cert and --ca-key an existing authority signs the
new certificate instead.

The server key can be encrypted with a password, which 'serve' then needs
through certificate_password or --cert-password-prompt.`,
	Example: `  # Self-contained CA and localhost certificate in ./tls
  forestnet certs generate --dir ./tls

  # Certificate for a named host signed by an existing CA
  forestnet certs generate --host forest.example --host 10.0.0.5 \
    --ca-cert ca.crt --ca-key ca.key --password-prompt`,
	Args: cobra.NoArgs,
	RunE: runCertsGenerate,
}

func init() {
	f := certsGenerateCmd.Flags()
	f.StringVarP(&certsDir, "dir", "d", ".", "Output directory")
	f.StringVar(&certsName, "name", "server", "Base name of the server certificate files")
	f.StringSliceVar(&certsHosts, "host", []string{"localhost"}, "Host names or addresses the certificate is valid for")
	f.StringVar(&certsCACert, "ca-cert", "", "Existing CA certificate (PEM)")
	f.StringVar(&certsCAKey, "ca-key", "", "Existing CA private key (PEM)")
	f.StringVar(&certsCAName, "ca-name", "forestNET Local CA", "Common name of a newly created CA")
	f.IntVar(&certsValidDays, "days", 825, "Validity in days")
	f.BoolVar(&certsPasswordPrompt, "password-prompt", false, "Encrypt the server key with a password read from the terminal")

	certsCmd.AddCommand(certsGenerateCmd)
	rootCmd.AddCommand(certsCmd)
}

func runCertsGenerate(cmd *cobra.Command, args []string) error {
	if (certsCACert == "") != (certsCAKey == "") {
		return fmt.Errorf("--ca-cert and --ca-key must be given together")
	}
	hosts := make([]string, 0, len(certsHosts))
	for _, h := range certsHosts {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	if len(hosts) == 0 {
		return fmt.Errorf("at least one --host is required")
	}

	var password string
	if certsPasswordPrompt {
		var err error
		if password, err = readPassword("Key password: "); err != nil {
			return err
		}
	}

	printer := ui.NewPrinter(cmd.OutOrStdout())
	details := []ui.Param{}

	var ca *certs.Authority
	var err error
	if certsCACert != "" {
		ca, err = certs.LoadAuthorityFiles(certsCACert, certsCAKey)
		if err != nil {
			printer.PrintError("Cannot load CA", err, "The CA key must be an unencrypted PEM RSA key")
			return err
		}
		details = append(details, ui.Param{Key: "CA", Value: certsCACert})
	} else {
		ca, err = certs.NewAuthority(certsCAName, certsValidDays)
		if err != nil {
			return err
		}
		caCert, _, err := ca.WriteFiles(certsDir, "ca")
		if err != nil {
			return err
		}
		details = append(details, ui.Param{Key: "CA", Value: caCert + " (new)"})
	}

	params := serverCertParams(hosts)
	params.ValidDays = certsValidDays
	sc, err := ca.GenerateServerCert(params)
	if err != nil {
		return err
	}
	certPath, keyPath, err := sc.WriteFiles(certsDir, certsName, password)
	if err != nil {
		return err
	}

	details = append(details,
		ui.Param{Key: "Certificate", Value: certPath},
		ui.Param{Key: "Key", Value: keyPath},
		ui.Param{Key: "Names", Value: strings.Join(hosts, ", ")},
		ui.Param{Key: "Expires", Value: sc.Certificate.NotAfter.Format("2006-01-02")},
	)
	if password != "" {
		details = append(details, ui.Param{Key: "Key encryption", Value: "AES-256"})
	}
	printer.PrintSuccess("Certificate generated", details...)
	return nil
}

// serverCertParams names the certificate after the first host and adds the
// rest as subject alternative names.
func serverCertParams(hosts []string) certs.CertParams {
	p := certs.DefaultCertParams(hosts[0])
	for _, h := range hosts[1:] {
		if ip := net.ParseIP(h); ip != nil {
			p.IPAddresses = append(p.IPAddresses, ip)
		} else {
			p.DNSNames = append(p.DNSNames, h)
		}
	}
	return p
}
