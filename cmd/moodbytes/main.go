// Command moodbytes はムード別スポット検索のAPIサーバー・ワーカー・マイグレーションを起動する。
//
//	moodbytes [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/moodbytes/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
