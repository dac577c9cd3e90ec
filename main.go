//go:generate weaver generate . ./pkg/rest ./pkg/services ./pkg/model ./pkg/trace

package main

import (
	"context"
	"log"

	"github.com/hathongthuong2k3/dev.io/pkg/rest"

	"github.com/ServiceWeaver/weaver"
)

func main() {
	if err := weaver.Run(context.Background(), rest.Serve); err != nil {
		log.Fatal(err)
	}
}
