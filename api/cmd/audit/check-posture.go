package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/joho/godotenv"

	"github.com/irgordon/sealedapi/api/internal/config"
	"github.com/irgordon/sealedapi/api/internal/infrastructure/crypto"
)

// sampleSecrets are keys that have shipped in sample configs and must never
// reach a deployment.
var sampleSecrets = map[string]bool{
	"mcMAmuM2wLgNey7hgaCXDsaH__h13R2esSQ7fKvX3ak=": true,
}

const minJWTSecretLen = 32

func main() {
	fmt.Println("Running payload encryption posture audit...")

	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: No .env file found, checking system env vars...")
	}

	cfg, err := config.Load(os.Getenv("SEALEDAPI_CONFIG"))
	if err != nil {
		fmt.Printf("FAIL: configuration does not load: %v\n", err)
		os.Exit(1)
	}

	hasErrors := false
	fail := func(format string, args ...any) {
		fmt.Printf("FAIL: "+format+"\n", args...)
		hasErrors = true
	}

	// --- Audit Point 1: Encryption is on ---
	if !cfg.Encryption.Enabled {
		fail("ENCRYPTION_ENABLED is false; payloads travel as plain JSON.")
	} else {
		fmt.Println("PASS: Payload encryption is enabled.")
	}

	// --- Audit Point 2: Secret strength ---
	if cfg.Encryption.Enabled {
		if _, err := crypto.ParseSecret(cfg.Encryption.Secret); err != nil {
			fail("ENCRYPTION_SECRET is not a 32-byte URL-safe base64 key: %v", err)
		} else if sampleSecrets[cfg.Encryption.Secret] {
			fail("ENCRYPTION_SECRET is a published sample key. Generate one with `sealedctl keygen`.")
		} else {
			fmt.Println("PASS: Encryption secret is well formed and not a sample key.")
		}
	}

	// --- Audit Point 3: Failure policy ---
	if cfg.Environment == "production" && cfg.Encryption.FailOpen() {
		fail("DECODE_FAILURE_POLICY=open is not allowed in production.")
	} else {
		fmt.Println("PASS: Decode failures are rejected.")
	}

	// --- Audit Point 4: Transport ---
	if u, err := url.Parse(cfg.BaseURL); err != nil || (cfg.Environment == "production" && u.Scheme != "https") {
		fail("API_BASE_URL must use https in production (Current: %q).", cfg.BaseURL)
	} else {
		fmt.Println("PASS: Base URL scheme is acceptable.")
	}

	// --- Audit Point 5: Mirror session secret ---
	if secret := cfg.Mirror.JWTSecret; secret != "" && len(secret) < minJWTSecretLen {
		fail("JWT_SECRET is too short. Min: %d characters (Current: %d)", minJWTSecretLen, len(secret))
	} else {
		fmt.Println("PASS: JWT secret length is sufficient or unset.")
	}

	fmt.Println("--------------------------------------------------")
	if hasErrors {
		fmt.Println("VERDICT: POSTURE FAILED.")
		fmt.Println("Fix the errors above before attempting deployment.")
		os.Exit(1)
	}
	fmt.Println("VERDICT: POSTURE VALIDATED.")
}
