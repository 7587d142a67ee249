package auth

import "testing"

func TestHashAndCheckPassword(t *testing.T) {
	digest, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if digest == "correct horse battery staple" {
		t.Fatal("digest equals plaintext")
	}
	if !CheckPassword(digest, "correct horse battery staple") {
		t.Fatal("correct password rejected")
	}
	if CheckPassword(digest, "wrong") {
		t.Fatal("wrong password accepted")
	}
}

func TestHashPasswordEmpty(t *testing.T) {
	if _, err := HashPassword(""); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestCheckPasswordMalformedDigest(t *testing.T) {
	for _, digest := range []string{"", "not-a-bcrypt-digest", "$2a$garbage"} {
		if CheckPassword(digest, "anything") {
			t.Fatalf("malformed digest %q accepted", digest)
		}
	}
}
