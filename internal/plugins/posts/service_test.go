package posts

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/signethq/signet/internal/apperror"
	"github.com/signethq/signet/internal/plugins/auth"
	"github.com/signethq/signet/internal/session"
	"github.com/signethq/signet/internal/signing"
	"github.com/signethq/signet/internal/vault"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	testPassword = "Str0ng!pass"
)

// --- Mocks ---

type mockRepo struct {
	createFn       func(ctx context.Context, post *Post) error
	findByIDFn     func(ctx context.Context, id string) (*Post, error)
	listFn         func(ctx context.Context, skip, take int) ([]ListItem, error)
	setSignatureFn func(ctx context.Context, id, signature string) error
}

func (m *mockRepo) Create(ctx context.Context, post *Post) error {
	if m.createFn == nil {
		return nil
	}
	return m.createFn(ctx, post)
}

func (m *mockRepo) FindByID(ctx context.Context, id string) (*Post, error) {
	if m.findByIDFn == nil {
		return nil, apperror.NewNotFound("post not found")
	}
	return m.findByIDFn(ctx, id)
}

func (m *mockRepo) List(ctx context.Context, skip, take int) ([]ListItem, error) {
	if m.listFn == nil {
		return []ListItem{}, nil
	}
	return m.listFn(ctx, skip, take)
}

func (m *mockRepo) SetSignature(ctx context.Context, id, signature string) error {
	if m.setSignatureFn == nil {
		return nil
	}
	return m.setSignatureFn(ctx, id, signature)
}

type mockUsers struct {
	findByIDFn func(ctx context.Context, id string) (*auth.User, error)
}

func (m *mockUsers) FindByID(ctx context.Context, id string) (*auth.User, error) {
	if m.findByIDFn == nil {
		return nil, apperror.NewNotFound("user not found")
	}
	return m.findByIDFn(ctx, id)
}

type mockSessions struct {
	validateFn func(ctx context.Context, token string) (*session.Session, error)
}

func (m *mockSessions) Validate(ctx context.Context, token string) (*session.Session, error) {
	if m.validateFn == nil {
		return nil, session.ErrNotFound
	}
	return m.validateFn(ctx, token)
}

// --- Helpers ---

var (
	keysOnce sync.Once
	testKeys *signing.KeyPair
	keysErr  error
)

// testKeyPair generates one RSA keypair shared across the package's tests.
func testKeyPair(t *testing.T) *signing.KeyPair {
	t.Helper()
	keysOnce.Do(func() {
		testKeys, keysErr = signing.GenerateKeyPair()
	})
	if keysErr != nil {
		t.Fatalf("generating keypair: %v", keysErr)
	}
	return testKeys
}

func newTestVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New(testSecret)
	if err != nil {
		t.Fatalf("creating vault: %v", err)
	}
	return v
}

// testAuthor builds a user whose private key is sealed under testPassword,
// the way signup provisions accounts.
func testAuthor(t *testing.T, v *vault.Vault) *auth.User {
	t.Helper()
	keys := testKeyPair(t)
	encKey, err := v.EncryptWithPassword(keys.PrivatePEM, testPassword)
	if err != nil {
		t.Fatalf("encrypting key: %v", err)
	}
	return &auth.User{
		ID:                  "author-1",
		Name:                "Ada Lovelace",
		Email:               "ada@example.com",
		PublicKey:           keys.PublicPEM,
		EncryptedPrivateKey: encKey,
	}
}

func sessionFor(userID string) *mockSessions {
	return &mockSessions{
		validateFn: func(ctx context.Context, token string) (*session.Session, error) {
			return &session.Session{UserID: userID, Is2FAVerified: true}, nil
		},
	}
}

func usersWith(user *auth.User) *mockUsers {
	return &mockUsers{
		findByIDFn: func(ctx context.Context, id string) (*auth.User, error) {
			if id == user.ID {
				return user, nil
			}
			return nil, apperror.NewNotFound("user not found")
		},
	}
}

func assertCode(t *testing.T, err error, want int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %d, got nil", want)
	}
	if got := apperror.SafeCode(err); got != want {
		t.Fatalf("error code = %d, want %d (err: %v)", got, want, err)
	}
}

// --- Create ---

func TestCreateStripsMarkupAndSetsAuthor(t *testing.T) {
	v := newTestVault(t)
	author := testAuthor(t, v)

	var created *Post
	repo := &mockRepo{
		createFn: func(ctx context.Context, post *Post) error {
			created = post
			return nil
		},
	}
	svc := NewService(repo, usersWith(author), sessionFor(author.ID), v)

	post, err := svc.Create(context.Background(), "token", CreateRequest{
		Message: "<script>alert(1)</script>hello <b>world</b>",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created == nil {
		t.Fatal("repo.Create was not called")
	}
	if strings.Contains(post.Message, "<") {
		t.Errorf("markup survived sanitization: %q", post.Message)
	}
	if !strings.Contains(post.Message, "hello") || !strings.Contains(post.Message, "world") {
		t.Errorf("text content lost: %q", post.Message)
	}
	if post.UserID != author.ID {
		t.Errorf("author = %q, want session user %q", post.UserID, author.ID)
	}
	if post.Signature != nil {
		t.Error("new post must start unsigned")
	}
}

func TestCreateWithImage(t *testing.T) {
	v := newTestVault(t)
	author := testAuthor(t, v)
	svc := NewService(&mockRepo{}, usersWith(author), sessionFor(author.ID), v)

	post, err := svc.Create(context.Background(), "token", CreateRequest{
		Message: "look at this",
		Image:   "https://example.com/cat.png",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if post.Image == nil || *post.Image != "https://example.com/cat.png" {
		t.Errorf("image = %v", post.Image)
	}
}

func TestCreateValidation(t *testing.T) {
	v := newTestVault(t)
	author := testAuthor(t, v)
	svc := NewService(&mockRepo{}, usersWith(author), sessionFor(author.ID), v)

	cases := []struct {
		name string
		req  CreateRequest
	}{
		{"empty message", CreateRequest{Message: ""}},
		{"markup only", CreateRequest{Message: "<b></b>"}},
		{"too long", CreateRequest{Message: strings.Repeat("a", 1001)}},
		{"bad image scheme", CreateRequest{Message: "hi there", Image: "ftp://example.com/x"}},
		{"image not a url", CreateRequest{Message: "hi there", Image: "not a url"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), "token", tc.req)
			assertCode(t, err, 422)
		})
	}
}

func TestCreateRequiresVerifiedSession(t *testing.T) {
	v := newTestVault(t)
	author := testAuthor(t, v)
	author.Is2FAEnabled = true

	sessions := &mockSessions{
		validateFn: func(ctx context.Context, token string) (*session.Session, error) {
			return &session.Session{UserID: author.ID, Is2FAVerified: false}, nil
		},
	}
	svc := NewService(&mockRepo{}, usersWith(author), sessions, v)

	_, err := svc.Create(context.Background(), "token", CreateRequest{Message: "hi"})
	assertCode(t, err, 401)
}

// --- List ---

func TestListClampsPagination(t *testing.T) {
	v := newTestVault(t)
	author := testAuthor(t, v)

	var gotSkip, gotTake int
	repo := &mockRepo{
		listFn: func(ctx context.Context, skip, take int) ([]ListItem, error) {
			gotSkip, gotTake = skip, take
			return []ListItem{}, nil
		},
	}
	svc := NewService(repo, usersWith(author), sessionFor(author.ID), v)

	if _, err := svc.List(context.Background(), "token", -5, 9999); err != nil {
		t.Fatalf("List: %v", err)
	}
	if gotSkip != 0 {
		t.Errorf("skip = %d, want 0", gotSkip)
	}
	if gotTake != maxTake {
		t.Errorf("take = %d, want %d", gotTake, maxTake)
	}

	if _, err := svc.List(context.Background(), "token", 10, 0); err != nil {
		t.Fatalf("List: %v", err)
	}
	if gotTake != defaultTake {
		t.Errorf("default take = %d, want %d", gotTake, defaultTake)
	}
}

// --- Sign ---

func feedPost(author *auth.User) *Post {
	img := "https://example.com/cat.png"
	return &Post{
		ID:        "post-1",
		UserID:    author.ID,
		Message:   "hello world",
		Image:     &img,
		CreatedAt: time.Now().UTC(),
	}
}

func TestSignStoresVerifiableSignature(t *testing.T) {
	v := newTestVault(t)
	author := testAuthor(t, v)
	post := feedPost(author)

	var stored string
	repo := &mockRepo{
		findByIDFn: func(ctx context.Context, id string) (*Post, error) {
			return post, nil
		},
		setSignatureFn: func(ctx context.Context, id, signature string) error {
			stored = signature
			return nil
		},
	}
	svc := NewService(repo, usersWith(author), sessionFor(author.ID), v)

	signed, err := svc.Sign(context.Background(), "token", post.ID, SignRequest{Password: testPassword})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if stored == "" {
		t.Fatal("signature was not stored")
	}
	if signed.Signature == nil || *signed.Signature != stored {
		t.Error("returned post does not carry the stored signature")
	}

	content := signing.Content{Message: post.Message, Image: *post.Image}
	if !signing.Verify(author.PublicKey, content, stored) {
		t.Error("stored signature does not verify against the author's public key")
	}
}

func TestSignWrongPassword(t *testing.T) {
	v := newTestVault(t)
	author := testAuthor(t, v)
	post := feedPost(author)

	repo := &mockRepo{
		findByIDFn: func(ctx context.Context, id string) (*Post, error) {
			return post, nil
		},
		setSignatureFn: func(ctx context.Context, id, signature string) error {
			t.Error("signature must not be stored when key decryption fails")
			return nil
		},
	}
	svc := NewService(repo, usersWith(author), sessionFor(author.ID), v)

	_, err := svc.Sign(context.Background(), "token", post.ID, SignRequest{Password: "wrong"})
	assertCode(t, err, 401)
}

func TestSignRejectsOtherUsersPost(t *testing.T) {
	v := newTestVault(t)
	author := testAuthor(t, v)
	post := feedPost(author)
	post.UserID = "someone-else"

	repo := &mockRepo{
		findByIDFn: func(ctx context.Context, id string) (*Post, error) {
			return post, nil
		},
	}
	svc := NewService(repo, usersWith(author), sessionFor(author.ID), v)

	_, err := svc.Sign(context.Background(), "token", post.ID, SignRequest{Password: testPassword})
	assertCode(t, err, 403)
}

func TestSignRejectsAlreadySigned(t *testing.T) {
	v := newTestVault(t)
	author := testAuthor(t, v)
	post := feedPost(author)
	sig := "existing-signature"
	post.Signature = &sig

	repo := &mockRepo{
		findByIDFn: func(ctx context.Context, id string) (*Post, error) {
			return post, nil
		},
	}
	svc := NewService(repo, usersWith(author), sessionFor(author.ID), v)

	_, err := svc.Sign(context.Background(), "token", post.ID, SignRequest{Password: testPassword})
	assertCode(t, err, 400)
}

func TestSignMissingPost(t *testing.T) {
	v := newTestVault(t)
	author := testAuthor(t, v)
	svc := NewService(&mockRepo{}, usersWith(author), sessionFor(author.ID), v)

	_, err := svc.Sign(context.Background(), "token", "no-such-post", SignRequest{Password: testPassword})
	assertCode(t, err, 404)
}

// --- Verify ---

func TestVerifyValidSignature(t *testing.T) {
	v := newTestVault(t)
	author := testAuthor(t, v)
	post := feedPost(author)

	keys := testKeyPair(t)
	sig, err := signing.Sign(keys.PrivatePEM, signing.Content{Message: post.Message, Image: *post.Image})
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	post.Signature = &sig

	repo := &mockRepo{
		findByIDFn: func(ctx context.Context, id string) (*Post, error) {
			return post, nil
		},
	}
	svc := NewService(repo, usersWith(author), sessionFor(author.ID), v)

	resp, err := svc.Verify(context.Background(), "token", post.ID)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !resp.Valid {
		t.Error("valid signature reported invalid")
	}
}

func TestVerifyDetectsTamperedContent(t *testing.T) {
	v := newTestVault(t)
	author := testAuthor(t, v)
	post := feedPost(author)

	keys := testKeyPair(t)
	sig, err := signing.Sign(keys.PrivatePEM, signing.Content{Message: post.Message, Image: *post.Image})
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	post.Signature = &sig
	post.Message = "hello world, edited"

	repo := &mockRepo{
		findByIDFn: func(ctx context.Context, id string) (*Post, error) {
			return post, nil
		},
	}
	svc := NewService(repo, usersWith(author), sessionFor(author.ID), v)

	resp, err := svc.Verify(context.Background(), "token", post.ID)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if resp.Valid {
		t.Error("tampered content reported valid")
	}
}

func TestVerifyUnsignedPost(t *testing.T) {
	v := newTestVault(t)
	author := testAuthor(t, v)
	post := feedPost(author)

	repo := &mockRepo{
		findByIDFn: func(ctx context.Context, id string) (*Post, error) {
			return post, nil
		},
	}
	svc := NewService(repo, usersWith(author), sessionFor(author.ID), v)

	_, err := svc.Verify(context.Background(), "token", post.ID)
	assertCode(t, err, 400)
}
