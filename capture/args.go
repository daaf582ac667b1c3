package capture

import "strings"

// liveInputArgs start at the live edge and let the engine ride out short
// drops itself before the job-level reconnect kicks in.
var liveInputArgs = []string{
	"-live_start_index", "-1",
	"-reconnect", "1",
	"-reconnect_streamed", "1",
	"-reconnect_delay_max", "5",
	"-timeout", "10000000",
}

var liveOutputArgs = []string{
	"-c:v", "copy",
	"-c:a", "aac",
	"-bsf:a", "aac_adtstoasc",
	"-movflags", "+faststart",
}

var vodOutputArgs = []string{
	"-c", "copy",
	"-bsf:a", "aac_adtstoasc",
}

// Args builds the full ffmpeg command line for spec.
func Args(spec Spec, loglevel string) []string {
	if loglevel == "" {
		loglevel = "error"
	}
	args := []string{
		"-y", "-hide_banner", "-nostats",
		"-loglevel", loglevel,
		"-progress", "pipe:1",
	}

	var headers []string
	if spec.Cookies != "" {
		headers = append(headers, "Cookie: "+spec.Cookies)
	}
	if spec.UserAgent != "" {
		headers = append(headers, "User-Agent: "+spec.UserAgent)
	}
	if len(headers) > 0 {
		args = append(args, "-headers", strings.Join(headers, "\r\n")+"\r\n")
	}

	if spec.Kind == KindLive {
		args = append(args, liveInputArgs...)
	}
	args = append(args, "-i", spec.Input)

	if spec.Kind == KindLive {
		args = append(args, liveOutputArgs...)
	} else {
		args = append(args, vodOutputArgs...)
	}
	return append(args, spec.Output)
}

// JoinArgs builds the command line that concatenates the parts listed in
// listFile into output without re-encoding.
func JoinArgs(listFile, output, loglevel string) []string {
	if loglevel == "" {
		loglevel = "error"
	}
	return []string{
		"-y", "-hide_banner", "-nostats",
		"-loglevel", loglevel,
		"-f", "concat", "-safe", "0",
		"-i", listFile,
		"-c", "copy",
		"-movflags", "+faststart",
		output,
	}
}
