package errors

import (
	"fmt"
	"slices"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type codeInfo struct {
	category string
	hints    []string
}

var codeTable = map[codes.Code]codeInfo{
	codes.Unavailable: {"connection", []string{
		"Check that the server is running",
		"Verify the address and port",
		"Check your network connection",
	}},
	codes.DeadlineExceeded:   {"timeout", []string{"Try again", "Increase timeout setting"}},
	codes.Unauthenticated:    {"auth", []string{"Add credentials in metadata or the auth settings"}},
	codes.PermissionDenied:   {"auth", []string{"Contact administrator for access"}},
	codes.InvalidArgument:    {"request", []string{"Check field values", "See details for specifics"}},
	codes.Internal:           {"server", []string{"Try again later", "Contact server administrator"}},
	codes.Unimplemented:      {"method", []string{"Check method name", "Verify server version"}},
	codes.NotFound:           {"request", []string{"Check the request parameters"}},
	codes.AlreadyExists:      {"request", []string{"Use a different identifier"}},
	codes.ResourceExhausted:  {"server", []string{"Try again later", "Reduce request size"}},
	codes.FailedPrecondition: {"request", []string{"Check system state", "See details for more info"}},
	codes.Aborted:            {"server", []string{"Try again"}},
	codes.OutOfRange:         {"request", []string{"Check input values"}},
	codes.DataLoss:           {"server", []string{"Contact server administrator immediately"}},
	codes.Canceled:           {"cancelled", nil},
	codes.Unknown:            {"unknown", []string{"Try again", "Contact server administrator if problem persists"}},
}

// ClassifyGRPCError converts a gRPC error into a CallError carrying the
// server's status code and message, a category, and troubleshooting hints.
func ClassifyGRPCError(err error) *CallError {
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok {
		return Classify(err)
	}

	details := fmt.Sprintf("gRPC: %s - %s", st.Code(), st.Message())
	if extra := formatStatusDetails(st); extra != "" {
		details += "\n\n" + extra
	}

	info, known := codeTable[st.Code()]
	if !known {
		info = codeInfo{category: "unknown", hints: []string{"Try again"}}
	}

	return &CallError{
		Code:     st.Code(),
		Message:  st.Message(),
		Category: info.category,
		Hints:    slices.Concat(info.hints, statusHints(st)),
		Details:  details,
		Err:      err,
	}
}

// statusHints turns retry and help details into extra hints.
func statusHints(st *status.Status) []string {
	var hints []string
	for _, detail := range st.Details() {
		switch d := detail.(type) {
		case *errdetails.RetryInfo:
			if delay := d.GetRetryDelay(); delay != nil {
				hints = append(hints, fmt.Sprintf("Retry after %v", delay.AsDuration()))
			}
		case *errdetails.Help:
			for _, link := range d.GetLinks() {
				hints = append(hints, fmt.Sprintf("%s: %s", link.GetDescription(), link.GetUrl()))
			}
		}
	}
	return hints
}

// formatStatusDetails extracts and formats rich error details from a gRPC status.
func formatStatusDetails(st *status.Status) string {
	details := st.Details()
	if len(details) == 0 {
		return ""
	}

	var sections []string

	for _, detail := range details {
		switch d := detail.(type) {
		case *errdetails.BadRequest:
			if fvs := d.GetFieldViolations(); len(fvs) > 0 {
				var lines []string
				lines = append(lines, "Field Violations:")
				for _, fv := range fvs {
					line := fmt.Sprintf("  %s: %s", fv.GetField(), fv.GetDescription())
					if r := fv.GetReason(); r != "" {
						line += fmt.Sprintf(" (reason: %s)", r)
					}
					lines = append(lines, line)
				}
				sections = append(sections, strings.Join(lines, "\n"))
			}

		case *errdetails.DebugInfo:
			var lines []string
			lines = append(lines, "Debug Info:")
			if d.GetDetail() != "" {
				lines = append(lines, "  "+d.GetDetail())
			}
			for _, entry := range d.GetStackEntries() {
				lines = append(lines, "  "+entry)
			}
			sections = append(sections, strings.Join(lines, "\n"))

		case *errdetails.ErrorInfo:
			var lines []string
			lines = append(lines, fmt.Sprintf("Error Info: %s", d.GetReason()))
			if d.GetDomain() != "" {
				lines = append(lines, fmt.Sprintf("  Domain: %s", d.GetDomain()))
			}
			for k, v := range d.GetMetadata() {
				lines = append(lines, fmt.Sprintf("  %s: %s", k, v))
			}
			sections = append(sections, strings.Join(lines, "\n"))

		case *errdetails.RetryInfo:
			if delay := d.GetRetryDelay(); delay != nil {
				sections = append(sections, fmt.Sprintf("Retry after: %v", delay.AsDuration()))
			}

		case *errdetails.PreconditionFailure:
			if vs := d.GetViolations(); len(vs) > 0 {
				var lines []string
				lines = append(lines, "Precondition Failures:")
				for _, v := range vs {
					lines = append(lines, fmt.Sprintf("  [%s] %s: %s", v.GetType(), v.GetSubject(), v.GetDescription()))
				}
				sections = append(sections, strings.Join(lines, "\n"))
			}

		case *errdetails.QuotaFailure:
			if vs := d.GetViolations(); len(vs) > 0 {
				var lines []string
				lines = append(lines, "Quota Failures:")
				for _, v := range vs {
					lines = append(lines, fmt.Sprintf("  %s: %s", v.GetSubject(), v.GetDescription()))
				}
				sections = append(sections, strings.Join(lines, "\n"))
			}

		case *errdetails.RequestInfo:
			sections = append(sections, fmt.Sprintf("Request ID: %s", d.GetRequestId()))

		case *errdetails.ResourceInfo:
			sections = append(sections, fmt.Sprintf("Resource: %s/%s - %s", d.GetResourceType(), d.GetResourceName(), d.GetDescription()))

		case *errdetails.Help:
			if links := d.GetLinks(); len(links) > 0 {
				var lines []string
				lines = append(lines, "Help:")
				for _, link := range links {
					lines = append(lines, fmt.Sprintf("  %s: %s", link.GetDescription(), link.GetUrl()))
				}
				sections = append(sections, strings.Join(lines, "\n"))
			}

		default:
			sections = append(sections, fmt.Sprintf("Detail: %v", detail))
		}
	}

	return strings.Join(sections, "\n\n")
}
