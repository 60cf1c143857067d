package native

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	amoghecrypt "github.com/amoghe/go-crypt"
	sergeycrypt "github.com/sergeymakinen/go-crypt"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/ripemd160"

	"github.com/loomlang/loom/object"
	"github.com/loomlang/loom/value"
)

// cryptHash implements IDCryptHash (spec §6 range 2's one password
// hashing id): hash(password, scheme) where scheme selects the
// algorithm exactly the way the teacher's cryptPasswordWithPerm salt
// prefix switch does ($2a$/$2b$/$2y$ bcrypt, $6$ SHA512-crypt, $5$
// SHA256-crypt, $1$ MD5-crypt, else traditional DES-crypt), grounded
// on builtins/crypto.go's algorithm table and builtins/crypto_unix.go's
// platform crypt(3) call — reimplemented here with the two pure-Go
// crypt(3)-compatible libraries from the teacher's own go.mod instead
// of cgo, so the runtime stays portable without a C toolchain.
func cryptHash(args []value.Value, h *value.Heap) (value.Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return value.Value{}, fmt.Errorf("native: crypt_hash expects (password[, scheme])")
	}
	password, ok := stringArg(args[0])
	if !ok {
		return value.Value{}, fmt.Errorf("native: crypt_hash: password must be a string")
	}
	scheme := ""
	if len(args) == 2 {
		scheme, ok = stringArg(args[1])
		if !ok {
			return value.Value{}, fmt.Errorf("native: crypt_hash: scheme must be a string")
		}
	}

	hashed, err := cryptWithScheme(password, scheme)
	if err != nil {
		return value.Value{}, err
	}
	return value.Pointer(object.NewStr(h, hashed)), nil
}

// cryptVerify implements IDCryptVerify: re-hash password with the
// scheme embedded in stored (its leading "$n$..." or, for a bare DES
// hash, its first two characters as salt) and compare.
func cryptVerify(args []value.Value, h *value.Heap) (value.Value, error) {
	if len(args) != 2 {
		return value.Value{}, fmt.Errorf("native: crypt_verify expects (password, stored)")
	}
	password, ok := stringArg(args[0])
	if !ok {
		return value.Value{}, fmt.Errorf("native: crypt_verify: password must be a string")
	}
	stored, ok := stringArg(args[1])
	if !ok {
		return value.Value{}, fmt.Errorf("native: crypt_verify: stored must be a string")
	}

	if strings.HasPrefix(stored, "$2a$") || strings.HasPrefix(stored, "$2b$") || strings.HasPrefix(stored, "$2y$") {
		err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(password))
		return value.Bool(err == nil), nil
	}

	salt := stored
	if len(stored) >= 2 && stored[0] != '$' {
		salt = stored[:2]
	}
	rehashed, err := cryptWithScheme(password, salt)
	if err != nil {
		return value.Value{}, err
	}
	return value.Bool(rehashed == stored), nil
}

// cryptWithScheme picks the library the same way the teacher's salt
// prefix switch does, splitting the two non-bcrypt crypt(3) libraries
// by family so both teacher dependencies stay exercised: amoghe/go-crypt
// handles traditional DES and MD5-crypt ($1$), sergeymakinen/go-crypt
// handles the SHA256-crypt ($5$) and SHA512-crypt ($6$) families it
// additionally implements.
func cryptWithScheme(password, scheme string) (string, error) {
	switch {
	case strings.HasPrefix(scheme, "$2a$"), strings.HasPrefix(scheme, "$2b$"), strings.HasPrefix(scheme, "$2y$"):
		cost := bcrypt.DefaultCost
		hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
		if err != nil {
			return "", fmt.Errorf("native: bcrypt: %w", err)
		}
		return string(hashed), nil

	case strings.HasPrefix(scheme, "$5$"), strings.HasPrefix(scheme, "$6$"):
		hashed, err := sergeycrypt.Crypt(password, scheme)
		if err != nil {
			return "", fmt.Errorf("native: crypt (sha-crypt): %w", err)
		}
		return hashed, nil

	default:
		// "" (generate a fresh DES salt), a bare 2-char DES salt, or
		// "$1$..." MD5-crypt all go through amoghe/go-crypt, which
		// generates its own salt when none is supplied.
		hashed, err := amoghecrypt.Crypt(password, scheme)
		if err != nil {
			return "", fmt.Errorf("native: crypt (des/md5): %w", err)
		}
		return hashed, nil
	}
}

// stringHash implements IDStringHash (spec §6 range 2): hash(str,
// algo) -> uppercase hex digest, matching builtinStringHash's
// getHasher algorithm table exactly, including ripemd160 (the third
// wired crypto dependency, golang.org/x/crypto/ripemd160).
func stringHash(args []value.Value, h *value.Heap) (value.Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return value.Value{}, fmt.Errorf("native: string_hash expects (str[, algo])")
	}
	s, ok := stringArg(args[0])
	if !ok {
		return value.Value{}, fmt.Errorf("native: string_hash: argument must be a string")
	}
	algo := "sha256"
	if len(args) == 2 {
		algo, ok = stringArg(args[1])
		if !ok {
			return value.Value{}, fmt.Errorf("native: string_hash: algo must be a string")
		}
	}

	hasher, ok := getHasher(algo)
	if !ok {
		return value.Value{}, fmt.Errorf("native: string_hash: unknown algorithm %q", algo)
	}
	hasher.Write([]byte(s))
	digest := hasher.Sum(nil)
	return value.Pointer(object.NewStr(h, strings.ToUpper(hex.EncodeToString(digest)))), nil
}

func getHasher(algo string) (hash.Hash, bool) {
	switch strings.ToLower(algo) {
	case "md5":
		return md5.New(), true
	case "sha1":
		return sha1.New(), true
	case "sha224":
		return sha256.New224(), true
	case "sha256", "":
		return sha256.New(), true
	case "sha384":
		return sha512.New384(), true
	case "sha512":
		return sha512.New(), true
	case "ripemd160":
		return ripemd160.New(), true
	default:
		return nil, false
	}
}

func stringArg(v value.Value) (string, bool) {
	s, ok := value.AsPointerOf[*object.Str](v)
	if !ok {
		return "", false
	}
	return s.Go(), true
}
