// Package log is a thin wrapper over glog so the rest of the module
// never imports it directly. Swapping the backend only requires
// changing the aliases below.
package log

import (
	goflag "flag"

	"github.com/golang/glog"
	"github.com/spf13/pflag"
)

var (
	// V quickly checks if the logging verbosity meets a threshold.
	V = glog.V
	// Flush ensures any pending I/O is written.
	Flush = glog.Flush

	// Info formats arguments like fmt.Print.
	Info = glog.Info
	// Infof formats arguments like fmt.Printf.
	Infof = glog.Infof
	// InfoDepth allows call frame depth to be adjusted.
	InfoDepth = glog.InfoDepth

	// Warning formats arguments like fmt.Print.
	Warning = glog.Warning
	// Warningf formats arguments like fmt.Printf.
	Warningf = glog.Warningf
	// WarningDepth allows call frame depth to be adjusted.
	WarningDepth = glog.WarningDepth

	// Error formats arguments like fmt.Print.
	Error = glog.Error
	// Errorf formats arguments like fmt.Printf.
	Errorf = glog.Errorf
	// ErrorDepth allows call frame depth to be adjusted.
	ErrorDepth = glog.ErrorDepth

	// Exit formats arguments like fmt.Print.
	Exit = glog.Exit
	// Exitf formats arguments like fmt.Printf.
	Exitf = glog.Exitf

	// Fatal formats arguments like fmt.Print.
	Fatal = glog.Fatal
	// Fatalf formats arguments like fmt.Printf.
	Fatalf = glog.Fatalf
)

// RegisterFlags installs the glog flags on the given pflag set so
// binaries built on pflag keep the usual -v/-logtostderr knobs.
func RegisterFlags(fs *pflag.FlagSet) {
	for _, name := range []string{
		"v",
		"logtostderr",
		"alsologtostderr",
		"stderrthreshold",
		"log_dir",
		"log_backtrace_at",
	} {
		if f := goflag.CommandLine.Lookup(name); f != nil {
			fs.AddGoFlag(f)
		}
	}
}
