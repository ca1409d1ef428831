package cmd

import (
	"github.com/spf13/pflag"

	"github.com/jmylchreest/ssbridge/pkg/httpclient"
)

// statusCodesValue is a flag holding a status code set such as "404,410-412".
type statusCodesValue struct {
	set *httpclient.StatusCodeSet
}

var _ pflag.Value = (*statusCodesValue)(nil)

func (v *statusCodesValue) String() string {
	if v.set == nil {
		return ""
	}
	return v.set.String()
}

func (v *statusCodesValue) Set(s string) error {
	set, err := httpclient.ParseStatusCodes(s)
	if err != nil {
		return err
	}
	v.set = set
	return nil
}

func (v *statusCodesValue) Type() string { return "statusCodes" }
