package modules

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/incrustwerush/rwaf/internal/runtime/pipeline"
)

const maxUploadSize = 10 << 20

var dangerousExtensionPatterns = compileAll([]string{
	`\.php\d?$`, `\.phtml$`, `\.php\d\.suspected$`,
	`\.asp$`, `\.aspx$`, `\.asa$`, `\.cer$`, `\.cdx$`,
	`\.jsp$`, `\.jspx$`, `\.jsw$`, `\.jsv$`,
	`\.exe$`, `\.dll$`, `\.bat$`, `\.cmd$`, `\.com$`,
	`\.scr$`, `\.vbs$`, `\.js$`, `\.jar$`,
	`\.sh$`, `\.bash$`, `\.py$`, `\.pl$`, `\.rb$`,
	`\.cgi$`, `\.htaccess$`, `\.htpasswd$`,
	`\.war$`, `\.ear$`, `\.swf$`, `\.svg$`,
})

var webShellSignatures = [][]byte{
	[]byte("<?php"),
	[]byte("<%"),
	[]byte("<script"),
	[]byte("eval("),
	[]byte("base64_decode"),
	[]byte("system("),
	[]byte("exec("),
	[]byte("passthru("),
	[]byte("shell_exec"),
	[]byte("proc_open"),
	[]byte("popen("),
	[]byte("curl_exec"),
	[]byte("curl_multi_exec"),
	[]byte("assert("),
	[]byte("create_function"),
	[]byte("file_get_contents"),
	[]byte("file_put_contents"),
	[]byte("fopen("),
	[]byte("readfile("),
	[]byte("require("),
	[]byte("include("),
}

var (
	uploadFilenamePattern  = regexp.MustCompile(`filename="([^"]+)"`)
	doubleExtensionPattern = regexp.MustCompile(`(?i)\.(?:jpg|png|gif|txt|pdf)\.(?:php|asp|jsp|exe)`)
)

// FileUploadProtection inspects multipart upload bodies for dangerous
// filenames, traversal attempts, web-shell payloads, and double extensions.
type FileUploadProtection struct{}

func NewFileUploadProtection() *FileUploadProtection { return &FileUploadProtection{} }

func (m *FileUploadProtection) Name() string { return "FileUploadProtection" }

func (m *FileUploadProtection) Run(in pipeline.Input) pipeline.Decision {
	if in.ResponsePhase() {
		return pipeline.Allow(pipeline.SkippedResponsePhase)
	}
	req := in.Req
	method := strings.ToUpper(req.Method)
	if method != "POST" && method != "PUT" {
		return pipeline.Allow("not_upload_request")
	}
	if !strings.Contains(strings.ToLower(req.HeaderText), "multipart/form-data") {
		return pipeline.Allow("not_file_upload")
	}

	body := req.Body
	if len(body) > maxUploadSize {
		return pipeline.Block(
			fmt.Sprintf("File upload too large: %d bytes", len(body)),
			"",
			map[string]any{"size": len(body), "limit": maxUploadSize},
		)
	}

	if match := uploadFilenamePattern.FindSubmatch(body); match != nil {
		filename := string(match[1])
		for _, re := range dangerousExtensionPatterns {
			if re.MatchString(filename) {
				rule := patternSource(re)
				return pipeline.Block(
					fmt.Sprintf("Dangerous file extension detected: %s", filename),
					rule,
					map[string]any{"filename": filename, "matched_pattern": rule},
				)
			}
		}
		if strings.Contains(filename, "..") || strings.Contains(filename, "/") || strings.Contains(filename, `\`) {
			return pipeline.Block("Path traversal detected in filename", "",
				map[string]any{"filename": filename})
		}
	}

	if !in.Settings.EnableRequestBodyCheck {
		return pipeline.Allow(map[string]any{"file_upload_check": "passed"})
	}

	for _, sig := range webShellSignatures {
		if bytes.Contains(body, sig) {
			return pipeline.Block("Web shell or malicious code detected in upload", string(sig),
				map[string]any{"signature": clip(string(sig), 50)})
		}
	}
	if doubleExtensionPattern.Match(body) {
		return pipeline.Block("Double extension attack detected", "double_extension",
			map[string]any{"pattern": "double_extension"})
	}
	return pipeline.Allow(map[string]any{"file_upload_check": "passed"})
}
