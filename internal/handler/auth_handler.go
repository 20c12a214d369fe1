package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"regexp"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"identity-service/internal/service"
	"identity-service/internal/util"
)

var (
	codeRegex  = regexp.MustCompile(`^[0-9]{6}$`)
	phoneRegex = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
)

// AuthHandler handles signup, signin, verification and 2FA endpoints.
type AuthHandler struct {
	authService *service.AuthService
	userService *service.UserService
	logger      *zap.Logger
}

func NewAuthHandler(authService *service.AuthService, userService *service.UserService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		userService: userService,
		logger:      logger,
	}
}

// RegisterRoutes registers all auth routes. Protected routes get the
// bearer middleware; turn-off additionally demands a 2FA-confirmed
// session.
func (h *AuthHandler) RegisterRoutes(router chi.Router, requireAuth func(http.Handler) http.Handler) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/signup", h.Signup)
		r.Post("/signin", h.Signin)
		r.Post("/verify-email", h.VerifyEmail)
		r.Post("/resend-otp", h.ResendCode)
		r.Post("/email", h.CheckEmail)
		r.Get("/email", h.CheckEmail)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/my", h.My)
			r.Post("/2fa/generate", h.GenerateTwoFactor)
			r.Post("/2fa/turn-on", h.TurnOnTwoFactor)
			r.Post("/2fa/authenticate", h.AuthenticateTwoFactor)

			r.Group(func(r chi.Router) {
				r.Use(RequireTwoFactor)
				r.Post("/2fa/turn-off", h.TurnOffTwoFactor)
			})
		})
	})
}

type signupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number"`
}

func (r *signupRequest) Validate() error {
	if err := validateEmail(r.Email); err != nil {
		return err
	}
	if len(r.Password) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", service.ErrInvalidInput)
	}
	if r.PhoneNumber != "" && !phoneRegex.MatchString(r.PhoneNumber) {
		return fmt.Errorf("%w: invalid phone number", service.ErrInvalidInput)
	}
	return nil
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *signinRequest) Validate() error {
	if err := validateEmail(r.Email); err != nil {
		return err
	}
	if r.Password == "" {
		return fmt.Errorf("%w: password is required", service.ErrInvalidInput)
	}
	return nil
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (r *verifyEmailRequest) Validate() error {
	if err := validateEmail(r.Email); err != nil {
		return err
	}
	if !codeRegex.MatchString(r.Code) {
		return fmt.Errorf("%w: code must be 6 digits", service.ErrInvalidInput)
	}
	return nil
}

type emailRequest struct {
	Email string `json:"email"`
}

func (r *emailRequest) Validate() error {
	return validateEmail(r.Email)
}

type twoFactorCodeRequest struct {
	Code string `json:"code"`
}

func (r *twoFactorCodeRequest) Validate() error {
	if !codeRegex.MatchString(r.Code) {
		return fmt.Errorf("%w: code must be 6 digits", service.ErrInvalidInput)
	}
	return nil
}

func validateEmail(address string) error {
	if address == "" {
		return fmt.Errorf("%w: email is required", service.ErrInvalidInput)
	}
	parsed, err := mail.ParseAddress(address)
	if err != nil || parsed.Address != address {
		return fmt.Errorf("%w: invalid email address", service.ErrInvalidInput)
	}
	return nil
}

// Signup creates an account and returns a session token.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Validation failed")
		return
	}

	account, signed, err := h.authService.Signup(ctx, &service.SignupRequest{
		Email:       req.Email,
		Password:    req.Password,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to create account")
		return
	}

	respondWithJSON(w, http.StatusCreated, successResponse(map[string]interface{}{
		"token":   signed,
		"account": account,
	}, "Account created; check your email for the verification code"))

	h.logger.Info("signup via HTTP",
		util.String("account_id", account.ID.String()))
}

// Signin verifies credentials and returns a session token.
func (h *AuthHandler) Signin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req signinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Validation failed")
		return
	}

	account, signed, err := h.authService.Signin(ctx, req.Email, req.Password)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Sign in failed")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"token":   signed,
		"account": account,
	}, "Signed in"))
}

// My returns the profile of the authenticated account.
func (h *AuthHandler) My(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	accountID, err := claims.AccountID()
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, err, "Invalid token")
		return
	}

	account, err := h.userService.Profile(r.Context(), accountID)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to load profile")
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(account, "Profile retrieved"))
}

// VerifyEmail checks the emailed code and marks the account verified.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Validation failed")
		return
	}

	if err := h.authService.VerifyEmail(r.Context(), req.Email, req.Code); err != nil {
		respondWithError(w, getStatusCode(err), err, "Email verification failed")
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(nil, "Email verified"))
}

// ResendCode issues a fresh verification code, superseding any pending one.
func (h *AuthHandler) ResendCode(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Validation failed")
		return
	}

	if err := h.authService.ResendVerificationCode(r.Context(), req.Email); err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to resend code")
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(nil, "Verification code sent"))
}

// CheckEmail reports whether an email is still available. The address
// comes from the JSON body on POST or the query string on GET.
func (h *AuthHandler) CheckEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if r.Method == http.MethodGet {
		req.Email = r.URL.Query().Get("email")
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Validation failed")
		return
	}

	registered, err := h.authService.IsEmailRegistered(r.Context(), req.Email)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to check email")
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(map[string]bool{
		"available": !registered,
	}, "Email availability checked"))
}

// GenerateTwoFactor enrolls a TOTP secret and returns the QR code for
// authenticator apps.
func (h *AuthHandler) GenerateTwoFactor(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	accountID, err := claims.AccountID()
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, err, "Invalid token")
		return
	}

	_, uri, err := h.authService.GenerateTwoFactorSecret(r.Context(), accountID)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to generate two-factor secret")
		return
	}

	qr, err := h.authService.EnrollmentQRCode(uri)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err, "Failed to render QR code")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(map[string]string{
		"qr_code":     qr,
		"otpauth_uri": uri,
	}, "Scan the QR code with your authenticator app"))
}

// TurnOnTwoFactor validates the submitted TOTP code and enables 2FA.
func (h *AuthHandler) TurnOnTwoFactor(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	accountID, err := claims.AccountID()
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, err, "Invalid token")
		return
	}

	var req twoFactorCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Validation failed")
		return
	}

	valid, err := h.authService.IsTwoFactorCodeValid(r.Context(), accountID, req.Code)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to validate code")
		return
	}
	if !valid {
		respondWithError(w, http.StatusUnauthorized,
			errors.New("wrong authentication code"), "Two-factor code rejected")
		return
	}

	if err := h.authService.EnableTwoFactor(r.Context(), accountID); err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to enable two-factor")
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(nil, "Two-factor authentication enabled"))
}

// AuthenticateTwoFactor completes the 2FA challenge and returns a
// 2FA-confirmed session token.
func (h *AuthHandler) AuthenticateTwoFactor(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	accountID, err := claims.AccountID()
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, err, "Invalid token")
		return
	}

	var req twoFactorCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Validation failed")
		return
	}

	valid, err := h.authService.IsTwoFactorCodeValid(r.Context(), accountID, req.Code)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to validate code")
		return
	}
	if !valid {
		respondWithError(w, http.StatusUnauthorized,
			errors.New("wrong authentication code"), "Two-factor code rejected")
		return
	}

	signed, err := h.authService.IssueTwoFactorToken(r.Context(), accountID)
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to issue token")
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(map[string]string{
		"token": signed,
	}, "Two-factor challenge passed"))
}

// TurnOffTwoFactor disables 2FA and discards the secret. Requires a
// 2FA-confirmed session.
func (h *AuthHandler) TurnOffTwoFactor(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	accountID, err := claims.AccountID()
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, err, "Invalid token")
		return
	}

	if err := h.authService.DisableTwoFactor(r.Context(), accountID); err != nil {
		respondWithError(w, getStatusCode(err), err, "Failed to disable two-factor")
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(nil, "Two-factor authentication disabled"))
}
