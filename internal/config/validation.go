package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags, then the cross-field rules tags cannot
// express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	for i, t := range cfg.Auth.Tokens {
		if _, ok := cfg.Auth.Users[strings.ToLower(t.User)]; !ok {
			return fmt.Errorf("auth.tokens[%d]: unknown user %q", i, t.User)
		}
	}
	uids := make(map[int64]string, len(cfg.Auth.Users))
	for name, u := range cfg.Auth.Users {
		if other, dup := uids[u.UID]; dup {
			return fmt.Errorf("auth.users: %q and %q share uid %d", name, other, u.UID)
		}
		uids[u.UID] = name
	}
	if len(cfg.Auth.Users) == 0 && !cfg.Auth.Guest {
		return errors.New("auth: no users configured and guest access disabled")
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
