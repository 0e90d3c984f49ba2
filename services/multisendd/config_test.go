package multisendd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"multisender/native/multisend"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfig(t, "multisendd.yaml", `
listen: 127.0.0.1:9000
data_dir: /var/lib/multisend
shutdown_timeout: 30s
engine:
  address: "0x00000000000000000000000000000000000005e0"
  owner: "0x000000000000000000000000000000000000000a"
  error_policy: silent
  refund_basis: declared
  max_recipients: 200
auth:
  hmac_secret: " s3cret "
  issuer: multisend
rate_limit:
  requests_per_minute: 120
genesis:
  balances:
    "0x00000000000000000000000000000000000000a1": "1000"
  rejecting:
    - "0x00000000000000000000000000000000000000b0"
  tokens:
    - address: "0x00000000000000000000000000000000000000d0"
      symbol: USD
      decimals: 6
      balances:
        "0x00000000000000000000000000000000000000a1": "0x64"
logging:
  level: debug
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.ListenAddress)
	require.Equal(t, 30*time.Second, cfg.ShutdownTimeout.Duration)
	require.Equal(t, "s3cret", cfg.Auth.HMACSecret)
	require.Equal(t, 2*time.Minute, cfg.Auth.ClockSkew.Duration)
	require.Equal(t, 10, cfg.RateLimit.Burst)
	require.Equal(t, "sqlite", cfg.Receipts.Driver)
	require.Equal(t, filepath.Join("/var/lib/multisend", "receipts.db"), cfg.Receipts.DSN)
	require.Len(t, cfg.Genesis.Tokens, 1)
	require.Equal(t, []string{"0x00000000000000000000000000000000000000b0"}, cfg.Genesis.Rejecting)

	opts, err := cfg.Engine.engineOptions()
	require.NoError(t, err)
	engine := multisend.NewEngine(testVault, opts...)
	require.Equal(t, multisend.PolicySilent, engine.Policy())
	require.Equal(t, multisend.RefundDeclared, engine.RefundBasis())
	require.Equal(t, 200, engine.MaxRecipients())
}

func TestLoadConfigTOML(t *testing.T) {
	t.Setenv("MULTISEND_TEST_SECRET", "from-env")
	t.Setenv("MULTISEND_TEST_DSN", "host=db user=multisend dbname=receipts")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "authorization=Bearer env, x-tenant=ops,malformed")
	path := writeConfig(t, "multisendd.toml", `
listen = ":7100"

[engine]
address = "0x00000000000000000000000000000000000005e0"
owner = "0x000000000000000000000000000000000000000a"

[auth]
hmac_secret_env = "MULTISEND_TEST_SECRET"
clock_skew = "30s"

[receipts]
driver = "postgres"
dsn_env = "MULTISEND_TEST_DSN"

[telemetry.headers]
authorization = "Bearer file"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":7100", cfg.ListenAddress)
	require.Equal(t, "from-env", cfg.Auth.HMACSecret)
	require.Equal(t, 30*time.Second, cfg.Auth.ClockSkew.Duration)
	require.Equal(t, "postgres", cfg.Receipts.Driver)
	require.Equal(t, "host=db user=multisend dbname=receipts", cfg.Receipts.DSN)
	require.Equal(t, 10*time.Second, cfg.ShutdownTimeout.Duration)
	require.Equal(t, map[string]string{
		"authorization": "Bearer file",
		"x-tenant":      "ops",
	}, cfg.Telemetry.Headers)
}

func TestLoadConfigSecretFile(t *testing.T) {
	secretPath := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(secretPath, []byte("file-secret\n"), 0o600))
	path := writeConfig(t, "multisendd.yaml", `
engine:
  address: "0x00000000000000000000000000000000000005e0"
  owner: "0x000000000000000000000000000000000000000a"
auth:
  hmac_secret_file: `+secretPath+`
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "file-secret", cfg.Auth.HMACSecret)
	require.Equal(t, "file:multisend-receipts?mode=memory&cache=shared", cfg.Receipts.DSN)
}

func TestLoadConfigRejects(t *testing.T) {
	const base = `
engine:
  address: "0x00000000000000000000000000000000000005e0"
  owner: "0x000000000000000000000000000000000000000a"
auth:
  hmac_secret: secret
`
	cases := map[string]string{
		"unknown field": base + "bogus: true\n",
		"zero owner": `
engine:
  address: "0x00000000000000000000000000000000000005e0"
  owner: "0x0000000000000000000000000000000000000000"
auth:
  hmac_secret: secret
`,
		"missing secret": `
engine:
  address: "0x00000000000000000000000000000000000005e0"
  owner: "0x000000000000000000000000000000000000000a"
`,
		"bad policy": `
engine:
  address: "0x00000000000000000000000000000000000005e0"
  owner: "0x000000000000000000000000000000000000000a"
  error_policy: loud
auth:
  hmac_secret: secret
`,
		"bad driver":  base + "receipts:\n  driver: mysql\n  dsn: x\n",
		"bad balance": base + "genesis:\n  balances:\n    \"0x00000000000000000000000000000000000000a1\": \"-5\"\n",
		"token without symbol": base + `genesis:
  tokens:
    - address: "0x00000000000000000000000000000000000000d0"
`,
		"bad duration":   base + "shutdown_timeout: soon\n",
		"zero rejecting": base + "genesis:\n  rejecting:\n    - \"0x0000000000000000000000000000000000000000\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, "multisendd.yaml", body))
			require.Error(t, err)
		})
	}
}

func TestSampleConfigLoads(t *testing.T) {
	t.Setenv("MULTISEND_HMAC_SECRET", "devnet")
	cfg, err := LoadConfig("config.yaml")
	require.NoError(t, err)
	require.Equal(t, "devnet", cfg.Auth.HMACSecret)
	require.Equal(t, filepath.Join("data/multisendd", "receipts.db"), cfg.Receipts.DSN)
	require.Equal(t, 500, cfg.Engine.MaxRecipients)
}
