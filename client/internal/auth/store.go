package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"drivepower/client/internal/api"
	"drivepower/client/internal/models"
	"drivepower/client/internal/tokenstore"
)

const (
	routeUserLogin       = "/Auth/user/login"
	routeUserRegister    = "/Auth/user/register"
	routeManagerLogin    = "/Auth/manager/login"
	routeManagerRegister = "/Auth/manager/register"
)

// authResponse covers both {token, user} and {success, message, uniqueId} replies.
type authResponse struct {
	Token    string       `json:"token"`
	User     *models.User `json:"user"`
	Success  *bool        `json:"success"`
	Message  string       `json:"message"`
	UniqueID string       `json:"uniqueId"`
}

// RegistrationResult is the outcome of a manager registration that did not fail.
// Pending means the account awaits operator approval and no session was created.
type RegistrationResult struct {
	Success  bool
	Pending  bool
	UniqueID string
	Message  string
}

// Store owns the client session: the decoded identity, its raw token and the
// loading/error flags of the identity actions.
type Store struct {
	client  *api.Client
	tokens  tokenstore.Store
	decoder *TokenDecoder
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.RWMutex
	session models.Session
	loading bool
	errMsg  string
}

// NewStore builds the auth store. client must not carry a token source of its own.
func NewStore(client *api.Client, tokens tokenstore.Store, decoder *TokenDecoder, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if decoder == nil {
		decoder = NewTokenDecoder("")
	}
	return &Store{
		client:  client,
		tokens:  tokens,
		decoder: decoder,
		logger:  logger,
		now:     time.Now,
	}
}

// Session returns a copy of the current session (zero value when logged out).
func (s *Store) Session() models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// IsAuthenticated reports whether a non-expired token and a derived user are present.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Valid(s.now())
}

// Token implements api.TokenSource. Expired tokens are not handed out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.session.Valid(s.now()) {
		return ""
	}
	return s.session.Token
}

// CurrentUserID returns the authenticated user id or "".
func (s *Store) CurrentUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.session.Valid(s.now()) {
		return ""
	}
	return s.session.UserID
}

// Loading reports whether an identity request is in flight.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Err returns the message of the last failed action.
func (s *Store) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errMsg
}

// Login authenticates a customer account.
func (s *Store) Login(ctx context.Context, req LoginRequest) error {
	if err := req.validate(); err != nil {
		return err
	}
	_, err := s.authenticate(ctx, routeUserLogin, req, "Login failed. Please try again.")
	return err
}

// LoginManager authenticates a station manager account.
func (s *Store) LoginManager(ctx context.Context, req ManagerLoginRequest) error {
	if err := req.validate(); err != nil {
		return err
	}
	_, err := s.authenticate(ctx, routeManagerLogin, req, "Manager login failed. Please try again.")
	return err
}

// Register creates a customer account. When the server replies with a token the new
// account is signed in; otherwise the call succeeds without a session.
func (s *Store) Register(ctx context.Context, req RegisterRequest) error {
	if err := req.validate(); err != nil {
		return err
	}
	_, err := s.authenticate(ctx, routeUserRegister, req, "Registration failed. Please try again.")
	return err
}

// RegisterManager creates a manager account. A pending-approval reply yields
// Pending=true and leaves the client unauthenticated.
func (s *Store) RegisterManager(ctx context.Context, req ManagerRegisterRequest) (RegistrationResult, error) {
	if err := req.validate(); err != nil {
		return RegistrationResult{}, err
	}
	resp, err := s.authenticate(ctx, routeManagerRegister, req, "Manager registration failed. Please try again.")
	if err != nil {
		return RegistrationResult{}, err
	}
	result := RegistrationResult{Success: true, UniqueID: resp.UniqueID, Message: resp.Message}
	if resp.Token == "" {
		result.Pending = true
		s.logger.Info("manager registration pending approval", zap.String("unique_id", resp.UniqueID))
	}
	return result, nil
}

// Logout clears durable storage and resets the session. There is no server round trip.
func (s *Store) Logout(ctx context.Context) {
	if err := s.tokens.Clear(ctx); err != nil {
		s.logger.Warn("failed to clear persisted token", zap.Error(err))
	}
	s.mu.Lock()
	s.session = models.Session{}
	s.errMsg = ""
	s.loading = false
	s.mu.Unlock()
}

// CheckAuth restores the session from the persisted token. Undecodable and expired
// tokens are treated the same way: the session is reset, storage cleared and false returned.
func (s *Store) CheckAuth(ctx context.Context) bool {
	token, err := s.tokens.Load(ctx)
	if err != nil {
		switch {
		case errors.Is(err, tokenstore.ErrNotFound):
		case errors.Is(err, tokenstore.ErrSealedToken):
			s.logger.Info("discarding sealed token that cannot be opened", zap.Error(err))
			if clearErr := s.tokens.Clear(ctx); clearErr != nil {
				s.logger.Warn("failed to clear persisted token", zap.Error(clearErr))
			}
		default:
			s.logger.Warn("failed to load persisted token", zap.Error(err))
		}
		s.resetSession()
		return false
	}

	session, err := s.decoder.Decode(token)
	if err != nil || session.Expired(s.now()) {
		if err != nil {
			s.logger.Info("discarding undecodable token", zap.Error(err))
		} else {
			s.logger.Info("discarding expired token", zap.Time("expired_at", session.ExpiresAt))
		}
		if clearErr := s.tokens.Clear(ctx); clearErr != nil {
			s.logger.Warn("failed to clear persisted token", zap.Error(clearErr))
		}
		s.resetSession()
		return false
	}

	s.mu.Lock()
	var known *models.User
	if s.session.UserID == session.UserID {
		// keep profile fields learned at login that the token does not carry
		known = &models.User{Email: s.session.Email, DisplayName: s.session.DisplayName}
	}
	s.session = mergeProfile(session, known)
	s.mu.Unlock()
	return true
}

// ExpiresWithin reports whether the current session expires inside window.
func (s *Store) ExpiresWithin(window time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Token != "" && expiresWithin(s.session, s.now(), window)
}

func (s *Store) authenticate(ctx context.Context, route string, payload interface{}, fallback string) (authResponse, error) {
	s.mu.Lock()
	s.loading = true
	s.errMsg = ""
	s.mu.Unlock()

	var resp authResponse
	if err := s.client.Post(ctx, route, route, payload, &resp); err != nil {
		return resp, s.fail(route, err, fallback)
	}
	if resp.Token == "" {
		if (resp.Success != nil && *resp.Success) || resp.UniqueID != "" {
			// accepted without a session, e.g. registration awaiting approval
			s.mu.Lock()
			s.loading = false
			s.mu.Unlock()
			return resp, nil
		}
		return resp, s.fail(route, &api.Error{Kind: api.KindServer, Message: resp.Message}, fallback)
	}

	session, err := s.decoder.Decode(resp.Token)
	if err != nil {
		return resp, s.fail(route, &api.Error{Kind: api.KindUnexpected, Message: "Received an invalid session token.", Err: err}, fallback)
	}
	if session.Expired(s.now()) {
		return resp, s.fail(route, &api.Error{Kind: api.KindValidation, Message: "Received an expired session token."}, fallback)
	}
	session = mergeProfile(session, resp.User)

	if err := s.tokens.Save(ctx, resp.Token); err != nil {
		return resp, s.fail(route, &api.Error{Kind: api.KindUnexpected, Message: "Could not store the session.", Err: err}, fallback)
	}

	s.mu.Lock()
	s.session = session
	s.loading = false
	s.errMsg = ""
	s.mu.Unlock()

	s.logger.Info("signed in", zap.String("user_id", session.UserID), zap.String("role", string(session.Role)))
	return resp, nil
}

func (s *Store) fail(route string, err error, fallback string) error {
	msg := api.Message(err, fallback)
	s.mu.Lock()
	s.loading = false
	s.errMsg = msg
	s.mu.Unlock()
	s.logger.Warn("identity request failed", zap.String("route", route), zap.Error(err))
	return err
}

func (s *Store) resetSession() {
	s.mu.Lock()
	s.session = models.Session{}
	s.mu.Unlock()
}

func mergeProfile(session models.Session, user *models.User) models.Session {
	if user == nil {
		user = &models.User{}
	}
	if session.UserID == "" {
		session.UserID = strings.TrimSpace(user.ID)
	}
	if session.Email == "" {
		session.Email = user.Email
	}
	if name := user.Name(); name != "" {
		session.DisplayName = name
	}
	if session.Role == "" {
		if role, ok := models.ParseRole(user.Role); ok {
			session.Role = role
		}
	}
	if session.Role == "" {
		session.Role = models.RoleUser
	}
	return session
}
