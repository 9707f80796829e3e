package config

import (
	"github.com/docopt/docopt-go"
)

// Usage is the docopt usage string the CLI entry point parses.
const Usage = `xchangeldap: an LDAP gateway for Exchange directory lookups

Usage:
  xchangeldap [options] -c <file|s3url>
  xchangeldap -h --help
  xchangeldap --version

Options:
  -c, --config <file>       Config file.
  -K <aws_key_id>           AWS Key ID.
  -S <aws_secret_key>       AWS Secret Key.
  -r <aws_region>           AWS Region [default: us-east-1].
  -h, --help                Show this screen.
  --version                 Show version.
`

// CLIArgs is the subset of parsed docopt flags Load needs.
type CLIArgs struct {
	ConfigLocation string
	AwsKeyID       string
	AwsSecretKey   string
	AwsRegion      string
}

// ParseArgs parses os.Args (via argv, nil meaning "read os.Args[1:]")
// against Usage and returns the flags Load consumes.
func ParseArgs(argv []string, version string) (CLIArgs, error) {
	args, err := docopt.Parse(Usage, argv, true, version, false)
	if err != nil {
		return CLIArgs{}, err
	}

	var out CLIArgs
	if v, ok := args["--config"].(string); ok {
		out.ConfigLocation = v
	}
	if v, ok := args["-K"].(string); ok {
		out.AwsKeyID = v
	}
	if v, ok := args["-S"].(string); ok {
		out.AwsSecretKey = v
	}
	if v, ok := args["-r"].(string); ok {
		out.AwsRegion = v
	}
	return out, nil
}
