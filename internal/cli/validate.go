package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/docrel/internal/docerr"
	"github.com/roach88/docrel/internal/schema"
)

// ValidationError is one problem found in the table mappings.
type ValidationError struct {
	Code     string `json:"code"`
	Category string `json:"category,omitempty"`
	Message  string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Tables int               `json:"tables"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the CUE table mappings",
		Long: `Load the CUE table mappings from the schema directory and check every
merge, embed and foreign key declaration, reporting all problems at once.

Exit codes:
  0 - Mappings are valid
  1 - One or more mappings are invalid
  2 - Command error (schema directory missing, CUE syntax error, etc.)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts)

	cfg, err := opts.settings()
	if err != nil {
		return fail(formatter, coded(ExitCommandError, ErrCodeConfig, err))
	}
	cat, err := loadCatalog(cfg.Schema.Dir)
	if err != nil {
		return fail(formatter, err)
	}
	for _, t := range cat.Tables() {
		formatter.VerboseLog("Validating table: %s", t.Name)
	}

	var validationErrors []ValidationError
	for _, err := range schema.ValidateCatalog(cat) {
		validationErrors = append(validationErrors, ValidationError{
			Code:     ErrorCode(err, ErrCodeGeneric),
			Category: string(docerr.CategoryOf(err)),
			Message:  err.Error(),
		})
	}

	if len(validationErrors) > 0 {
		return outputValidationErrors(formatter, cat.Len(), validationErrors)
	}
	return outputValidateSuccess(formatter, cat.Len())
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, tables int) error {
	if formatter.JSON() {
		return formatter.Success(ValidationResult{Valid: true, Tables: tables})
	}

	fmt.Fprintf(formatter.Writer, "✓ All %d table mapping(s) valid\n", tables)
	return nil
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, tables int, errs []ValidationError) error {
	failed := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	if formatter.JSON() {
		err := formatter.Partial(ValidationResult{Valid: false, Tables: tables, Errors: errs}, "", &CLIError{
			Code:     errs[0].Code,
			Category: errs[0].Category,
			Message:  errs[0].Message,
		})
		if err != nil {
			return err
		}
		return failed
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", err.Code, err.Message)
	}
	fmt.Fprintln(formatter.Writer)
	return failed
}
