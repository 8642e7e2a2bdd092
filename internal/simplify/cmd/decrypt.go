package cmd

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	pathpkg "path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/xxtea/xxtea-go/xxtea"

	"simplify/internal/analysis"
	"simplify/internal/detectors"
)

var decryptCmd = &cobra.Command{
	Use:   "decrypt file",
	Short: "Decrypt an XXTEA-encrypted asset",
	Long: `Decrypt an asset with an XXTEA key given on the command line, or with the
first key the analysis recovers from the smali files passed to --from.
Signatures prepended to the payload are stripped and gzip or zip payloads are
unpacked.`,
	Example: `
# Decrypt with a known key
simplify decrypt --key secret --signature XXTEA assets/main.luac

# Recover the key from the app and write main.lua
simplify decrypt --from app/smali -w assets/main.luac
  `,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, _ := cmd.Flags().GetString("key")
		signature, _ := cmd.Flags().GetString("signature")
		from, _ := cmd.Flags().GetStringSlice("from")
		writeFile, _ := cmd.Flags().GetBool("write")

		keyBytes, sigBytes := []byte(key), []byte(signature)
		if key == "" {
			if len(from) == 0 {
				return fmt.Errorf("--key or --from is required")
			}
			s, err := openSession(cmd, from)
			if err != nil {
				return err
			}
			defer s.Close()
			r, err := s.analyze(cmd.Context())
			if err != nil {
				return err
			}
			k, sign, ok := recoveredKey(r.Findings)
			if !ok {
				return fmt.Errorf("no XXTEA key recovered from %s", strings.Join(from, ", "))
			}
			keyBytes = k
			if signature == "" {
				sigBytes = sign
			}
			slog.Info("Recovered XXTEA key", "key", analysis.EscapeUnprintable(k), "sign", analysis.EscapeUnprintable(sign))
		}

		path := args[0]
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read file: %v", err)
		}
		decrypted, err := decryptPayload(data, keyBytes, sigBytes)
		if err != nil {
			return err
		}
		decrypted, err = detectAndDecompress(decrypted, path)
		if err != nil {
			return fmt.Errorf("decompression failed: %v", err)
		}

		if !writeFile {
			_, err = cmd.OutOrStdout().Write(decrypted)
			return err
		}
		out := decryptedPath(path)
		if err := os.WriteFile(out, decrypted, 0o644); err != nil {
			return fmt.Errorf("failed to write file: %v", err)
		}
		fmt.Fprintf(os.Stderr, "Successfully decrypted: %s\n", path)
		fmt.Fprintf(os.Stderr, "Output written to: %s\n", out)
		return nil
	},
}

// recoveredKey returns the first key, and its sign when one was recovered,
// that the XXTEA detector attached to findings.
func recoveredKey(findings []analysis.CallFinding) (key, sign []byte, ok bool) {
	for _, f := range findings {
		h, found := detectors.KeyHex(f)
		if !found {
			continue
		}
		k, err := hex.DecodeString(h)
		if err != nil || len(k) == 0 {
			continue
		}
		if sh, ok := f.Metadata["sign_hex"].(string); ok {
			sign, _ = hex.DecodeString(sh)
		} else if s, ok := f.Metadata["sign"].(string); ok {
			sign = []byte(s)
		}
		return k, sign, true
	}
	return nil, nil, false
}

// decryptPayload strips a leading signature when present and decrypts the
// rest.
func decryptPayload(data, key, signature []byte) ([]byte, error) {
	if len(signature) > 0 && bytes.HasPrefix(data, signature) {
		data = data[len(signature):]
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("nothing to decrypt")
	}
	decrypted := xxtea.Decrypt(data, key)
	if decrypted == nil {
		return nil, fmt.Errorf("decryption failed: wrong key or corrupt data")
	}
	return decrypted, nil
}

// decryptedPath maps .luac to .lua and .jsc to .js; other files get a
// -decrypted suffix before the extension.
func decryptedPath(path string) string {
	dir := pathpkg.Dir(path)
	filename := pathpkg.Base(path)
	ext := pathpkg.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	switch strings.ToLower(ext) {
	case ".luac":
		return pathpkg.Join(dir, base+".lua")
	case ".jsc":
		return pathpkg.Join(dir, base+".js")
	default:
		return pathpkg.Join(dir, base+"-decrypted"+ext)
	}
}

// detectAndDecompress unpacks gzip data and the first entry of zip archives.
// Anything else is returned as is.
func detectAndDecompress(data []byte, filename string) ([]byte, error) {
	if len(data) < 2 {
		return data, nil
	}

	if data[0] == 0x1f && data[1] == 0x8b {
		slog.Debug("Detected gzip compression", "file", filename)
		reader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader creation failed: %v", err)
		}
		defer reader.Close()
		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("gzip decompression failed: %v", err)
		}
		return decompressed, nil
	}

	if len(data) >= 4 && data[0] == 0x50 && data[1] == 0x4B {
		slog.Debug("Detected ZIP archive", "file", filename)
		reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, fmt.Errorf("zip reader creation failed: %v", err)
		}
		if len(reader.File) == 0 {
			return nil, fmt.Errorf("zip archive is empty")
		}
		rc, err := reader.File[0].Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open file in zip: %v", err)
		}
		defer rc.Close()
		decompressed, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("failed to read file from zip: %v", err)
		}
		return decompressed, nil
	}
	return data, nil
}

func init() {
	decryptCmd.Flags().String("key", "", "XXTEA key")
	decryptCmd.Flags().String("signature", "", "Signature prepended to the encrypted data")
	decryptCmd.Flags().StringSlice("from", nil, "Recover the key by analyzing these smali files")
	decryptCmd.Flags().BoolP("write", "w", false, "Write output to file (.lua for .luac, .js for .jsc)")
	rootCmd.AddCommand(decryptCmd)
}
